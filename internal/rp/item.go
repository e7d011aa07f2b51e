package rp

import (
	"context"
	"net/url"
	"strconv"
)

// ItemScope provides operations on test items within a project.
type ItemScope struct {
	project *ProjectScope
}

// ListItemsOption configures filter and pagination for item listing.
type ListItemsOption func(params url.Values)

// Start creates a test item and returns its uuid. A non-empty parentUUID
// makes the item a child of that item.
// Uses POST /api/v2/{project}/item[/{parentUuid}].
func (s *ItemScope) Start(ctx context.Context, parentUUID string, rq StartTestItemRQ) (string, error) {
	u := s.project.v2("item")
	if parentUUID != "" {
		u = s.project.v2("item", parentUUID)
	}
	var rs EntryCreatedRS
	if err := s.project.client.doJSON(ctx, "POST", u, "start item", rq, &rs); err != nil {
		return "", err
	}
	if rs.ID == "" {
		return "", &EntryCreatedError{Operation: "start item", Body: "missing id"}
	}
	return rs.ID, nil
}

// Finish closes the item identified by uuid.
// Uses PUT /api/v2/{project}/item/{uuid}.
func (s *ItemScope) Finish(ctx context.Context, uuid string, rq FinishTestItemRQ) (*OperationCompletionRS, error) {
	var rs OperationCompletionRS
	if err := s.project.client.doJSON(ctx, "PUT", s.project.v2("item", uuid), "finish item", rq, &rs); err != nil {
		return nil, err
	}
	if rs.Message == "" {
		return nil, &OperationCompletionError{Operation: "finish item", Body: "missing message"}
	}
	return &rs, nil
}

// Update changes description and attributes of the item with numeric id.
// Uses PUT /api/v1/{project}/item/{id}/update.
func (s *ItemScope) Update(ctx context.Context, id int, rq UpdateTestItemRQ) (*OperationCompletionRS, error) {
	var rs OperationCompletionRS
	if err := s.project.client.doJSON(ctx, "PUT", s.project.v1("item", strconv.Itoa(id), "update"), "update item", rq, &rs); err != nil {
		return nil, err
	}
	if rs.Message == "" {
		return nil, &OperationCompletionError{Operation: "update item", Body: "missing message"}
	}
	return &rs, nil
}

// List returns test items matching the given filters.
// Uses the /api/v1/{project}/item endpoint.
func (s *ItemScope) List(ctx context.Context, opts ...ListItemsOption) (*PagedItems, error) {
	params := url.Values{}
	for _, opt := range opts {
		opt(params)
	}

	u := s.project.v1("item")
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var paged PagedItems
	if err := s.project.client.doJSON(ctx, "GET", u, "list items", nil, &paged); err != nil {
		return nil, err
	}
	return &paged, nil
}

// ListAll returns all test items matching the filters, auto-paginating.
func (s *ItemScope) ListAll(ctx context.Context, opts ...ListItemsOption) ([]TestItemResource, error) {
	var all []TestItemResource
	page := 1
	pageSize := 200

	for {
		pageOpts := append(opts[:len(opts):len(opts)],
			WithItemPageSize(pageSize),
			WithItemPageNumber(page),
		)
		paged, err := s.List(ctx, pageOpts...)
		if err != nil {
			return nil, err
		}
		all = append(all, paged.Content...)
		if len(paged.Content) < pageSize {
			break
		}
		page++
	}
	return all, nil
}

// Get returns a single test item by its numeric ID.
func (s *ItemScope) Get(ctx context.Context, id int) (*TestItemResource, error) {
	var item TestItemResource
	if err := s.project.client.doJSON(ctx, "GET", s.project.v1("item", strconv.Itoa(id)), "get item", nil, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// GetByUUID returns a single test item by its uuid.
func (s *ItemScope) GetByUUID(ctx context.Context, uuid string) (*TestItemResource, error) {
	var item TestItemResource
	if err := s.project.client.doJSON(ctx, "GET", s.project.v1("item", "uuid", uuid), "get item by uuid", nil, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// --- Item listing options ---

// WithLaunchID filters items by launch ID.
func WithLaunchID(id int) ListItemsOption {
	return func(p url.Values) { p.Set("filter.eq.launchId", strconv.Itoa(id)) }
}

// WithParentID filters items by their parent's numeric ID.
func WithParentID(id int) ListItemsOption {
	return func(p url.Values) { p.Set("filter.eq.parentId", strconv.Itoa(id)) }
}

// WithStatus filters items by status (e.g. "FAILED").
func WithStatus(status string) ListItemsOption {
	return func(p url.Values) { p.Set("filter.eq.status", status) }
}

// WithItemType filters items by type (e.g. "TEST", "STEP", "SUITE").
func WithItemType(itemType ItemType) ListItemsOption {
	return func(p url.Values) { p.Set("filter.eq.type", string(itemType)) }
}

// WithItemName filters items by exact name.
func WithItemName(name string) ListItemsOption {
	return func(p url.Values) { p.Set("filter.eq.name", name) }
}

// WithItemPageSize sets the page size for item listing.
func WithItemPageSize(size int) ListItemsOption {
	return func(p url.Values) { p.Set("page.size", strconv.Itoa(size)) }
}

// WithItemPageNumber sets the page number for item listing.
func WithItemPageNumber(n int) ListItemsOption {
	return func(p url.Values) { p.Set("page.page", strconv.Itoa(n)) }
}
