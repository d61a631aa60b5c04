// Package sessions manages the per-session artifact containers: one
// writable namespace per session, holding item sets and items with attribute
// bags. Containers are stored as JSON blobs so that any blob backend can
// host them.
package sessions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"emhub/internal/blob"
	"emhub/pkg/domain"
)

// Manager creates, fills, and removes session containers on a blob store.
type Manager struct {
	store blob.Store
}

// NewManager wraps the given blob store.
func NewManager(store blob.Store) *Manager {
	return &Manager{store: store}
}

func containerMarker(container string) string {
	return container + "/container.json"
}

func setKey(container string, setID int) string {
	return fmt.Sprintf("%s/sets/%06d/meta.json", container, setID)
}

func itemKey(container string, setID, itemID int) string {
	return fmt.Sprintf("%s/sets/%06d/items/%08d.json", container, setID, itemID)
}

// CreateContainer creates an empty container. Creating an existing container
// is an error.
func (m *Manager) CreateContainer(ctx context.Context, container string) error {
	marker := map[string]any{
		"name":    container,
		"created": time.Now().UTC().Format(time.RFC3339),
	}
	if err := m.putJSON(ctx, containerMarker(container), marker, false); err != nil {
		return fmt.Errorf("create container %s: %w", container, err)
	}
	return nil
}

// ContainerExists reports whether the container was created.
func (m *Manager) ContainerExists(ctx context.Context, container string) (bool, error) {
	_, err := m.store.Head(ctx, containerMarker(container))
	if err != nil {
		if blob.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// DeleteContainer removes the container and everything inside it.
func (m *Manager) DeleteContainer(ctx context.Context, container string) error {
	infos, err := m.store.List(ctx, container+"/")
	if err != nil {
		return fmt.Errorf("list container %s: %w", container, err)
	}
	for _, info := range infos {
		if _, err := m.store.Delete(ctx, info.Key); err != nil {
			return fmt.Errorf("delete %s: %w", info.Key, err)
		}
	}
	return nil
}

// CreateSet adds an item set with the given attributes to the container.
func (m *Manager) CreateSet(ctx context.Context, container string, setID int, attrs map[string]any) error {
	if exists, err := m.ContainerExists(ctx, container); err != nil {
		return err
	} else if !exists {
		return domain.Validationf("session container %s does not exist", container)
	}
	record := map[string]any{"id": setID}
	for k, v := range attrs {
		record[k] = v
	}
	if err := m.putJSON(ctx, setKey(container, setID), record, false); err != nil {
		return fmt.Errorf("create set %d in %s: %w", setID, container, err)
	}
	return nil
}

// Sets lists the attribute bags of every set in the container, ordered by
// set id.
func (m *Manager) Sets(ctx context.Context, container string) ([]map[string]any, error) {
	infos, err := m.store.List(ctx, container+"/sets/")
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for _, info := range infos {
		if !strings.HasSuffix(info.Key, "/meta.json") {
			continue
		}
		record, err := m.getJSON(ctx, info.Key)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, nil
}

// AddItem stores a new item in a set. Adding an existing item id is an
// error; use UpdateItem to change stored attributes.
func (m *Manager) AddItem(ctx context.Context, container string, setID, itemID int, attrs map[string]any) error {
	record := map[string]any{"id": itemID}
	for k, v := range attrs {
		record[k] = v
	}
	if err := m.putJSON(ctx, itemKey(container, setID, itemID), record, false); err != nil {
		return fmt.Errorf("add item %d to set %d in %s: %w", itemID, setID, container, err)
	}
	return nil
}

// UpdateItem merges attrs into the stored item, replacing existing keys.
func (m *Manager) UpdateItem(ctx context.Context, container string, setID, itemID int, attrs map[string]any) error {
	key := itemKey(container, setID, itemID)
	record, err := m.getJSON(ctx, key)
	if err != nil {
		return fmt.Errorf("update item %d in set %d of %s: %w", itemID, setID, container, err)
	}
	for k, v := range attrs {
		record[k] = v
	}
	if err := m.putJSON(ctx, key, record, true); err != nil {
		return fmt.Errorf("update item %d in set %d of %s: %w", itemID, setID, container, err)
	}
	return nil
}

// Items lists the items of a set ordered by item id. A non-empty projection
// restricts every returned bag to those attributes (plus the id).
func (m *Manager) Items(ctx context.Context, container string, setID int, projection []string) ([]map[string]any, error) {
	prefix := fmt.Sprintf("%s/sets/%06d/items/", container, setID)
	infos, err := m.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	var out []map[string]any
	for _, info := range infos {
		record, err := m.getJSON(ctx, info.Key)
		if err != nil {
			return nil, err
		}
		out = append(out, project(record, projection))
	}
	return out, nil
}

// Item fetches one item's attribute bag. A non-empty projection restricts
// the returned attributes (plus the id).
func (m *Manager) Item(ctx context.Context, container string, setID, itemID int, projection []string) (map[string]any, error) {
	record, err := m.getJSON(ctx, itemKey(container, setID, itemID))
	if err != nil {
		return nil, fmt.Errorf("item %d in set %d of %s: %w", itemID, setID, container, err)
	}
	return project(record, projection), nil
}

func project(record map[string]any, projection []string) map[string]any {
	if len(projection) == 0 {
		return record
	}
	out := map[string]any{"id": record["id"]}
	for _, attr := range projection {
		if v, ok := record[attr]; ok {
			out[attr] = v
		}
	}
	return out
}

func (m *Manager) putJSON(ctx context.Context, key string, record map[string]any, overwrite bool) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	_, err = m.store.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: "application/json",
		Overwrite:   overwrite,
	})
	return err
}

func (m *Manager) getJSON(ctx context.Context, key string) (map[string]any, error) {
	_, r, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var record map[string]any
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, err
	}
	return record, nil
}
