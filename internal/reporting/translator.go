package reporting

import (
	"context"
	"net/http"
	"strconv"

	"rpreport/internal/rp"
)

// ItemLookup reads single test items. *rp.ItemScope implements it.
type ItemLookup interface {
	Get(ctx context.Context, id int) (*rp.TestItemResource, error)
	GetByUUID(ctx context.Context, uuid string) (*rp.TestItemResource, error)
}

// LaunchLookup reads single launches. *rp.LaunchScope implements it.
type LaunchLookup interface {
	GetByUUID(ctx context.Context, uuid string) (*rp.LaunchResource, error)
}

// Translator maps item and launch uuids to the server's numeric ids and
// back. Pairs never change once assigned, so every answer is cached for the
// lifetime of the Translator. It is not safe for concurrent use.
type Translator struct {
	items    ItemLookup
	launches LaunchLookup

	idByUUID     map[string]int
	uuidByID     map[int]string
	launchByUUID map[string]int
}

// NewTranslator returns a Translator backed by the given lookups.
func NewTranslator(items ItemLookup, launches LaunchLookup) *Translator {
	return &Translator{
		items:        items,
		launches:     launches,
		idByUUID:     map[string]int{},
		uuidByID:     map[int]string{},
		launchByUUID: map[string]int{},
	}
}

// Remember records an item id/uuid pair learned elsewhere, such as from a
// listing response.
func (t *Translator) Remember(id int, uuid string) {
	if id == 0 || uuid == "" {
		return
	}
	t.idByUUID[uuid] = id
	t.uuidByID[id] = uuid
}

// InternalID returns the numeric id of the item with the given uuid.
// Uses GET /api/v1/{project}/item/uuid/{uuid}.
func (t *Translator) InternalID(ctx context.Context, uuid string) (int, error) {
	if id, ok := t.idByUUID[uuid]; ok {
		return id, nil
	}
	item, err := t.items.GetByUUID(ctx, uuid)
	if err != nil {
		return 0, notFound("item", uuid, err)
	}
	if item.ID == 0 {
		return 0, &rp.NotFoundError{Entity: "item", Key: uuid}
	}
	t.Remember(item.ID, uuid)
	return item.ID, nil
}

// UUID returns the uuid of the item with the given numeric id.
// Uses GET /api/v1/{project}/item/{id}.
func (t *Translator) UUID(ctx context.Context, id int) (string, error) {
	if uuid, ok := t.uuidByID[id]; ok {
		return uuid, nil
	}
	key := strconv.Itoa(id)
	item, err := t.items.Get(ctx, id)
	if err != nil {
		return "", notFound("item", key, err)
	}
	if item.UUID == "" {
		return "", &rp.NotFoundError{Entity: "item", Key: key}
	}
	t.Remember(id, item.UUID)
	return item.UUID, nil
}

// LaunchID returns the numeric id of the launch with the given uuid.
// Uses GET /api/v1/{project}/launch/uuid/{uuid}.
func (t *Translator) LaunchID(ctx context.Context, uuid string) (int, error) {
	if id, ok := t.launchByUUID[uuid]; ok {
		return id, nil
	}
	launch, err := t.launches.GetByUUID(ctx, uuid)
	if err != nil {
		return 0, notFound("launch", uuid, err)
	}
	if launch.ID == 0 {
		return 0, &rp.NotFoundError{Entity: "launch", Key: uuid}
	}
	t.launchByUUID[uuid] = launch.ID
	return launch.ID, nil
}

// notFound turns a 404 into *rp.NotFoundError and passes anything else
// through unchanged.
func notFound(entity, key string, err error) error {
	if rp.HasStatusCode(err, http.StatusNotFound) {
		return &rp.NotFoundError{Entity: entity, Key: key, Err: err}
	}
	return err
}
