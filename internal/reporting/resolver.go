package reporting

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"rpreport/internal/rp"
)

// suiteExtensions are stripped from suite names so that "Login.robot" and
// "login" name the same suite.
var suiteExtensions = []string{".robot", ".resource", ".txt", ".tsv", ".rst", ".feature"}

// NormalizeSuiteName returns the identity of a suite name: NFC, case-folded,
// without a known suite-file extension, whitespace runs collapsed to "_".
func NormalizeSuiteName(name string) string {
	s := norm.NFC.String(strings.TrimSpace(name))
	s = cases.Fold().String(s)
	for _, ext := range suiteExtensions {
		if strings.HasSuffix(s, ext) {
			s = strings.TrimSuffix(s, ext)
			break
		}
	}
	return strings.Join(strings.Fields(s), "_")
}

// SplitSuitePath splits a dotted long name ("Root.Sub.Leaf") into a path.
// Empty segments are dropped.
func SplitSuitePath(longName string) []string {
	var path []string
	for _, seg := range strings.Split(longName, ".") {
		if seg = strings.TrimSpace(seg); seg != "" {
			path = append(path, seg)
		}
	}
	return path
}

// SuiteLister lists test items with filters. *rp.ItemScope implements it.
type SuiteLister interface {
	ListAll(ctx context.Context, opts ...rp.ListItemsOption) ([]rp.TestItemResource, error)
}

// CreateSuiteFunc starts a SUITE item named name under parentUUID (empty
// for a root suite) and returns its uuid.
type CreateSuiteFunc func(ctx context.Context, name, parentUUID string) (string, error)

type suiteNode struct {
	uuid string
	id   int
}

// pathSep joins normalized segments into cache keys.
const pathSep = "\x1f"

// Resolver finds or creates suite chains under one launch. Every resolved
// prefix is cached and never pruned. It is not safe for concurrent use.
type Resolver struct {
	launchUUID string
	items      SuiteLister
	ids        *Translator
	create     CreateSuiteFunc
	cache      map[string]suiteNode
	logger     *slog.Logger
}

// NewResolver returns a Resolver for the launch with the given uuid.
func NewResolver(launchUUID string, items SuiteLister, ids *Translator, create CreateSuiteFunc) *Resolver {
	return &Resolver{
		launchUUID: launchUUID,
		items:      items,
		ids:        ids,
		create:     create,
		cache:      map[string]suiteNode{},
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// Resolve returns the uuid of the leaf suite of path, creating every
// missing level. Once a level is missing, the levels below it are created
// without querying. Suites created before a failure are not removed.
func (r *Resolver) Resolve(ctx context.Context, path []string) (string, error) {
	if len(path) == 0 {
		return "", r.fail(path, "", errors.New("empty suite path"))
	}
	names := make([]string, len(path))
	for i, seg := range path {
		names[i] = NormalizeSuiteName(seg)
		if names[i] == "" {
			return "", r.fail(path, seg, errors.New("empty suite name"))
		}
	}

	depth, cur := r.deepestCached(names)
	if depth == len(names) {
		return cur.uuid, nil
	}

	creating := false
	for i := depth; i < len(names); i++ {
		if !creating {
			var candidates []rp.TestItemResource
			var err error
			if i == 0 {
				candidates, err = r.Roots(ctx)
			} else {
				candidates, err = r.children(ctx, cur)
			}
			if err != nil {
				return "", r.fail(path, path[i], err)
			}
			if match, ok := firstMatch(candidates, names[i]); ok {
				uuid := match.UUID
				if uuid == "" {
					if uuid, err = r.ids.UUID(ctx, match.ID); err != nil {
						return "", r.fail(path, path[i], err)
					}
				}
				r.ids.Remember(match.ID, uuid)
				cur = suiteNode{uuid: uuid, id: match.ID}
				r.cache[cacheKey(names[:i+1])] = cur
				continue
			}
			creating = true
			r.logger.Debug("suite missing, creating remainder", "launch", r.launchUUID, "segment", path[i], "depth", i)
		}

		uuid, err := r.create(ctx, strings.TrimSpace(path[i]), cur.uuid)
		if err != nil {
			return "", r.fail(path, path[i], err)
		}
		cur = suiteNode{uuid: uuid}
		r.cache[cacheKey(names[:i+1])] = cur
	}
	return cur.uuid, nil
}

// Roots lists the launch's suites that have no parent.
func (r *Resolver) Roots(ctx context.Context) ([]rp.TestItemResource, error) {
	launchID, err := r.ids.LaunchID(ctx, r.launchUUID)
	if err != nil {
		return nil, err
	}
	all, err := r.items.ListAll(ctx, rp.WithLaunchID(launchID), rp.WithItemType(rp.TypeSuite))
	if err != nil {
		return nil, err
	}
	var roots []rp.TestItemResource
	for _, it := range all {
		if it.Parent == 0 {
			roots = append(roots, it)
		}
	}
	return roots, nil
}

// Children lists the suites directly under the suite with numeric id parentID.
func (r *Resolver) Children(ctx context.Context, parentID int) ([]rp.TestItemResource, error) {
	launchID, err := r.ids.LaunchID(ctx, r.launchUUID)
	if err != nil {
		return nil, err
	}
	return r.items.ListAll(ctx,
		rp.WithLaunchID(launchID),
		rp.WithParentID(parentID),
		rp.WithItemType(rp.TypeSuite),
	)
}

func (r *Resolver) children(ctx context.Context, parent suiteNode) ([]rp.TestItemResource, error) {
	id := parent.id
	if id == 0 {
		var err error
		if id, err = r.ids.InternalID(ctx, parent.uuid); err != nil {
			return nil, err
		}
	}
	return r.Children(ctx, id)
}

// Cached returns a copy of the prefix cache keyed by opaque path keys.
func (r *Resolver) Cached() map[string]string {
	out := make(map[string]string, len(r.cache))
	for k, n := range r.cache {
		out[k] = n.uuid
	}
	return out
}

// Seed loads prefix cache entries previously returned by Cached.
func (r *Resolver) Seed(entries map[string]string) {
	for k, uuid := range entries {
		r.cache[k] = suiteNode{uuid: uuid}
	}
}

func (r *Resolver) deepestCached(names []string) (int, suiteNode) {
	for i := len(names); i > 0; i-- {
		if n, ok := r.cache[cacheKey(names[:i])]; ok {
			return i, n
		}
	}
	return 0, suiteNode{}
}

func (r *Resolver) fail(path []string, segment string, err error) error {
	return &ReportingError{
		Op:      "resolve suite",
		Launch:  r.launchUUID,
		Path:    append([]string(nil), path...),
		Segment: segment,
		Err:     err,
	}
}

func firstMatch(items []rp.TestItemResource, name string) (rp.TestItemResource, bool) {
	for _, it := range items {
		if NormalizeSuiteName(it.Name) == name {
			return it, true
		}
	}
	return rp.TestItemResource{}, false
}

func cacheKey(names []string) string {
	return strings.Join(names, pathSep)
}
