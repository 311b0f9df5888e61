package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/roach88/certsync/internal/model"
)

// Keys under which list endpoints return their items.
var listKeys = []string{"data", "items", "results", "trainers", "certifications"}

// FetchTrainers returns every trainer, following pages until the server
// reports the end. Items without an id are skipped.
func (c *Client) FetchTrainers(ctx context.Context) ([]model.Trainer, error) {
	var out []model.Trainer
	err := c.paginate(ctx, []string{"trainers"}, nil, func(item map[string]any) {
		t, err := model.ParseTrainer(item)
		if err == nil {
			err = c.validate.Struct(t)
		}
		if err != nil {
			slog.Warn("skipping trainer payload", "error", err)
			return
		}
		out = append(out, t)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch trainers: %w", err)
	}
	return out, nil
}

// FetchPendingCertifications returns every certification awaiting
// verification across all trainers.
func (c *Client) FetchPendingCertifications(ctx context.Context) ([]model.CertificationRecord, error) {
	var out []model.CertificationRecord
	filter := url.Values{"status": {string(model.StatusPending)}}
	err := c.paginate(ctx, []string{"certifications"}, filter, func(item map[string]any) {
		rec, err := model.ParseCertification(item)
		if err == nil {
			err = c.validate.Struct(rec)
		}
		if err != nil {
			slog.Warn("skipping certification payload", "error", err)
			return
		}
		out = append(out, rec)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch pending certifications: %w", err)
	}
	return out, nil
}

// FetchTrainerByID returns one trainer.
func (c *Client) FetchTrainerByID(ctx context.Context, key string) (model.Trainer, error) {
	body, err := c.do(ctx, http.MethodGet, c.endpoint(nil, "trainers", key))
	if err != nil {
		return model.Trainer{}, fmt.Errorf("fetch trainer %s: %w", key, err)
	}
	t, err := decodeTrainer(body, key)
	if err != nil {
		return model.Trainer{}, fmt.Errorf("fetch trainer %s: %w", key, err)
	}
	return t, nil
}

// RecomputeSpecializations asks the server to recompute a trainer's
// specializations from its verified certifications and returns the result.
func (c *Client) RecomputeSpecializations(ctx context.Context, key string) (model.Trainer, error) {
	body, err := c.do(ctx, http.MethodPost, c.endpoint(nil, "trainers", key, "specializations", "recompute"))
	if err != nil {
		return model.Trainer{}, fmt.Errorf("recompute specializations %s: %w", key, err)
	}
	t, err := decodeTrainer(body, key)
	if err != nil {
		return model.Trainer{}, fmt.Errorf("recompute specializations %s: %w", key, err)
	}
	return t, nil
}

// paginate fetches numbered pages starting at 1 and passes every item to
// fn. It stops when the server says there are no more pages, when a page
// is shorter than the page size, or when a page starts with the same item
// as the previous one (the server ignores the page parameter).
func (c *Client) paginate(ctx context.Context, path []string, filter url.Values, fn func(map[string]any)) error {
	var prevFirst string
	for page := 1; page <= maxPages; page++ {
		body, err := c.do(ctx, http.MethodGet, c.endpoint(pageQuery(page, c.pageSize, filter), path...))
		if err != nil {
			return err
		}
		items, more, err := decodePage(body, page, c.pageSize)
		if err != nil {
			return err
		}
		if len(items) > 0 {
			first, err := json.Marshal(items[0])
			if err != nil {
				return fmt.Errorf("%w: %v", model.ErrMalformedPayload, err)
			}
			if page > 1 && string(first) == prevFirst {
				slog.Warn("server repeated a page, stopping pagination",
					"path", strings.Join(path, "/"),
					"page", page,
				)
				return nil
			}
			prevFirst = string(first)
		}
		for _, item := range items {
			fn(item)
		}
		if !more {
			return nil
		}
	}
	return fmt.Errorf("more than %d pages", maxPages)
}

// decodePage accepts a bare JSON array or an object wrapping the items
// under one of listKeys, with optional paging metadata.
func decodePage(body []byte, page, size int) ([]map[string]any, bool, error) {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, false, fmt.Errorf("%w: %v", model.ErrMalformedPayload, err)
	}

	var list []any
	var meta map[string]any
	switch v := raw.(type) {
	case []any:
		list = v
	case map[string]any:
		for _, k := range listKeys {
			if l, ok := v[k].([]any); ok {
				list = l
				break
			}
		}
		if list == nil {
			return nil, false, fmt.Errorf("%w: no item list in response", model.ErrMalformedPayload)
		}
		meta, _ = v["meta"].(map[string]any)
		if meta == nil {
			meta, _ = v["pagination"].(map[string]any)
		}
		if meta == nil {
			meta = v
		}
	default:
		return nil, false, fmt.Errorf("%w: unexpected response shape", model.ErrMalformedPayload)
	}

	items := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			items = append(items, m)
		}
	}

	if more, ok := hasMore(meta, page); ok {
		return items, more, nil
	}
	return items, len(list) >= size && len(list) > 0, nil
}

// hasMore reads paging metadata. ok is false when none is present.
func hasMore(meta map[string]any, page int) (more, ok bool) {
	if meta == nil {
		return false, false
	}
	for _, k := range []string{"hasMore", "has_more", "hasNext", "has_next"} {
		if b, isBool := meta[k].(bool); isBool {
			return b, true
		}
	}
	for _, k := range []string{"totalPages", "total_pages", "pages"} {
		if n, isNum := meta[k].(float64); isNum {
			return page < int(n), true
		}
	}
	if next, present := meta["next"]; present {
		return next != nil && next != "", true
	}
	return false, false
}

// decodeTrainer accepts a trainer object, optionally wrapped under
// "trainer" or one of the generic envelope keys. Responses that carry only
// the specializations are attributed to key.
func decodeTrainer(body []byte, key string) (model.Trainer, error) {
	m, err := model.DecodeObject(body)
	if err != nil {
		return model.Trainer{}, err
	}
	for _, k := range []string{"trainer", "data", "payload"} {
		if inner, ok := m[k].(map[string]any); ok {
			m = inner
			break
		}
	}
	t, err := model.ParseTrainer(m)
	if err != nil {
		m["id"] = key
		if t, err = model.ParseTrainer(m); err != nil {
			return model.Trainer{}, err
		}
	}
	return t, nil
}
