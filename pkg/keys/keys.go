// Package keys implements the canonical key grammar used by every other
// storage component. All addressable entities map to a colon-separated key:
//
//	domain:app:collection:id                         base
//	domain:app:collection:id:latest                  latest version pointer
//	domain:app:collection:id:version:N               version snapshot (N >= 1)
//	domain:app:collection:id:mutation:name           materialized mutation
//	domain:app:collection:id:transformation:name     transformation result
//	idx:domain:app:collection                        collection index set
//	stream:audit:domain:app:collection:id            per-item audit stream
//	queue:jobs:domain:app:collection:transformation  job queue list
//	job:jobId                                        job lifecycle record
//
// Components are sanitized before being embedded so a caller-supplied string
// can never inject a key separator.
package keys

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Components identifies an addressable entity. Domain and App are required
// for every key; the remaining fields are required per key form.
type Components struct {
	Domain     string
	App        string
	Collection string
	ID         string
}

// Kind reports which key form a parsed key had.
type Kind string

const (
	KindBase           Kind = "base"
	KindLatest         Kind = "latest"
	KindVersion        Kind = "version"
	KindMutation       Kind = "mutation"
	KindTransformation Kind = "transformation"
	KindIndex          Kind = "index"
	KindAudit          Kind = "audit"
	KindQueue          Kind = "queue"
	KindJob            Kind = "job"
)

// Parsed is the result of Parse: the recovered components plus whichever
// trailing field the key form carries.
type Parsed struct {
	Kind           Kind
	Components     Components
	Version        int
	Mutation       string
	Transformation string
	JobID          string
}

var invalidChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Sanitize collapses runs of characters outside [A-Za-z0-9_-] to a single
// underscore and strips leading/trailing underscores. The transform is lossy
// and not invertible; Parse returns sanitized components.
func Sanitize(s string) string {
	s = invalidChars.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

func clean(field, value string) (string, error) {
	v := Sanitize(strings.TrimSpace(value))
	if v == "" {
		return "", &MissingComponentError{Field: field}
	}
	return v, nil
}

func (c Components) scope() (domain, app, collection string, err error) {
	if domain, err = clean("domain", c.Domain); err != nil {
		return
	}
	if app, err = clean("app", c.App); err != nil {
		return
	}
	collection, err = clean("collection", c.Collection)
	return
}

func (c Components) item() (domain, app, collection, id string, err error) {
	if domain, app, collection, err = c.scope(); err != nil {
		return
	}
	id, err = clean("id", c.ID)
	return
}

// Base returns domain:app:collection:id.
func Base(c Components) (string, error) {
	d, a, col, id, err := c.item()
	if err != nil {
		return "", err
	}
	return d + ":" + a + ":" + col + ":" + id, nil
}

// Latest returns the latest-pointer key for an item.
func Latest(c Components) (string, error) {
	base, err := Base(c)
	if err != nil {
		return "", err
	}
	return base + ":latest", nil
}

// Version returns the snapshot key for version n (n >= 1).
func Version(c Components, n int) (string, error) {
	base, err := Base(c)
	if err != nil {
		return "", err
	}
	if n < 1 {
		return "", &MissingComponentError{Field: "version"}
	}
	return base + ":version:" + strconv.Itoa(n), nil
}

// Mutation returns the materialized-mutation key for the named mutation.
func Mutation(c Components, name string) (string, error) {
	base, err := Base(c)
	if err != nil {
		return "", err
	}
	n, err := clean("mutation", name)
	if err != nil {
		return "", err
	}
	return base + ":mutation:" + n, nil
}

// Transformation returns the transformation-result key for the named
// transformation.
func Transformation(c Components, name string) (string, error) {
	base, err := Base(c)
	if err != nil {
		return "", err
	}
	n, err := clean("transformation", name)
	if err != nil {
		return "", err
	}
	return base + ":transformation:" + n, nil
}

// Index returns the collection index key. No item id is required.
func Index(c Components) (string, error) {
	d, a, col, err := c.scope()
	if err != nil {
		return "", err
	}
	return "idx:" + d + ":" + a + ":" + col, nil
}

// Audit returns the per-item audit stream key.
func Audit(c Components) (string, error) {
	base, err := Base(c)
	if err != nil {
		return "", err
	}
	return "stream:audit:" + base, nil
}

// Queue returns the job queue key for a transformation. No item id is
// required; jobs for every item of the collection share one queue.
func Queue(c Components, transformation string) (string, error) {
	d, a, col, err := c.scope()
	if err != nil {
		return "", err
	}
	t, err := clean("transformation", transformation)
	if err != nil {
		return "", err
	}
	return "queue:jobs:" + d + ":" + a + ":" + col + ":" + t, nil
}

// Job returns the lifecycle record key for a job id.
func Job(jobID string) (string, error) {
	id, err := clean("job id", jobID)
	if err != nil {
		return "", err
	}
	return "job:" + id, nil
}

// Parse is the left-inverse of the builders for every key form, except that
// it cannot recover a pre-sanitization original string (accepted lossy
// transform). Unknown shapes return an UnparseableKeyError.
func Parse(key string) (Parsed, error) {
	segs := strings.Split(key, ":")
	bad := func() (Parsed, error) {
		return Parsed{}, &UnparseableKeyError{Key: key}
	}
	for _, s := range segs {
		if s == "" {
			return bad()
		}
	}

	switch segs[0] {
	case "idx":
		if len(segs) != 4 {
			return bad()
		}
		return Parsed{
			Kind:       KindIndex,
			Components: Components{Domain: segs[1], App: segs[2], Collection: segs[3]},
		}, nil
	case "stream":
		if len(segs) != 6 || segs[1] != "audit" {
			return bad()
		}
		return Parsed{
			Kind:       KindAudit,
			Components: Components{Domain: segs[2], App: segs[3], Collection: segs[4], ID: segs[5]},
		}, nil
	case "queue":
		if len(segs) != 6 || segs[1] != "jobs" {
			return bad()
		}
		return Parsed{
			Kind:           KindQueue,
			Components:     Components{Domain: segs[2], App: segs[3], Collection: segs[4]},
			Transformation: segs[5],
		}, nil
	case "job":
		if len(segs) != 2 {
			return bad()
		}
		return Parsed{Kind: KindJob, JobID: segs[1]}, nil
	}

	c := Components{}
	switch len(segs) {
	case 4:
		c = Components{Domain: segs[0], App: segs[1], Collection: segs[2], ID: segs[3]}
		return Parsed{Kind: KindBase, Components: c}, nil
	case 5:
		if segs[4] != "latest" {
			return bad()
		}
		c = Components{Domain: segs[0], App: segs[1], Collection: segs[2], ID: segs[3]}
		return Parsed{Kind: KindLatest, Components: c}, nil
	case 6:
		c = Components{Domain: segs[0], App: segs[1], Collection: segs[2], ID: segs[3]}
		switch segs[4] {
		case "version":
			n, err := strconv.Atoi(segs[5])
			if err != nil || n < 1 {
				return bad()
			}
			return Parsed{Kind: KindVersion, Components: c, Version: n}, nil
		case "mutation":
			return Parsed{Kind: KindMutation, Components: c, Mutation: segs[5]}, nil
		case "transformation":
			return Parsed{Kind: KindTransformation, Components: c, Transformation: segs[5]}, nil
		}
	}
	return bad()
}

// MissingComponentError reports a required key component that was absent or
// empty after trimming and sanitization.
type MissingComponentError struct {
	Field string
}

func (e *MissingComponentError) Error() string {
	return fmt.Sprintf("missing key component: %s", e.Field)
}

// UnparseableKeyError reports a key string that matches no known form.
type UnparseableKeyError struct {
	Key string
}

func (e *UnparseableKeyError) Error() string {
	return fmt.Sprintf("unparseable key: %q", e.Key)
}
