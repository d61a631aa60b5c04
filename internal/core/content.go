package core

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"emhub/internal/adapters"
	"emhub/internal/sqlitefile"
	"emhub/pkg/domain"
)

// ContentFunc computes one named content payload from keyword arguments. It
// may query the entity store and delegate to other content functions, but it
// never mutates the store.
type ContentFunc func(ctx context.Context, kwargs map[string]any) (map[string]any, error)

// ContentRegistry maps content names to functions. It is the integration
// seam for outer presentation layers. Registration happens once during
// startup; lookups are concurrent.
type ContentRegistry struct {
	mu    sync.RWMutex
	funcs map[string]ContentFunc
}

// NewContentRegistry creates an empty registry.
func NewContentRegistry() *ContentRegistry {
	return &ContentRegistry{funcs: make(map[string]ContentFunc)}
}

// Register binds a name to a function. Duplicate names are an error so that
// startup wiring mistakes surface immediately.
func (r *ContentRegistry) Register(name string, fn ContentFunc) error {
	if name == "" || fn == nil {
		return fmt.Errorf("content registration requires a name and a function")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.funcs[name]; exists {
		return fmt.Errorf("content %q is already registered", name)
	}
	r.funcs[name] = fn
	return nil
}

// Names lists the registered content names in sorted order.
func (r *ContentRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Get invokes the named content function.
func (r *ContentRegistry) Get(ctx context.Context, name string, kwargs map[string]any) (map[string]any, error) {
	r.mu.RLock()
	fn, ok := r.funcs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown content %q", name)
	}
	return fn(ctx, kwargs)
}

// RegisterDefaultContent wires the content functions every deployment
// carries: entity listings and the booking calendar range.
func RegisterDefaultContent(reg *ContentRegistry, s *Service) error {
	register := func(name string, fn ContentFunc) error { return reg.Register(name, fn) }

	if err := register("resources_list", func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		resources, err := s.ListResources(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"resources": resources}, nil
	}); err != nil {
		return err
	}

	if err := register("users_list", func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		users, err := s.ListUsers(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"users": users}, nil
	}); err != nil {
		return err
	}

	if err := register("bookings_range", func(ctx context.Context, kwargs map[string]any) (map[string]any, error) {
		start, err := kwargTime(kwargs, "start")
		if err != nil {
			return nil, err
		}
		end, err := kwargTime(kwargs, "end")
		if err != nil {
			return nil, err
		}
		bookings, err := s.GetBookingsRange(ctx, start, end)
		if err != nil {
			return nil, err
		}
		return map[string]any{"bookings": bookings}, nil
	}); err != nil {
		return err
	}

	if err := register("sessions_list", func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		list, err := s.ListSessions(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"sessions": list}, nil
	}); err != nil {
		return err
	}

	if err := register("session_data", func(ctx context.Context, kwargs map[string]any) (map[string]any, error) {
		id, err := kwargInt(kwargs, "session_id")
		if err != nil {
			return nil, err
		}
		sess, err := s.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		data := adapters.Open(sess.DataPath, adapters.PNGEncoder{}, sqlitefile.CopyOptions{})
		stats, err := data.GetStats(ctx)
		if err != nil {
			return nil, err
		}
		workflow, err := data.GetWorkflow(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"session": sess, "stats": stats, "workflow": workflow}, nil
	}); err != nil {
		return err
	}

	return register("dashboard", func(ctx context.Context, kwargs map[string]any) (map[string]any, error) {
		out, err := reg.Get(ctx, "resources_list", nil)
		if err != nil {
			return nil, err
		}
		bookings, err := reg.Get(ctx, "bookings_range", kwargs)
		if err != nil {
			return nil, err
		}
		out["bookings"] = bookings["bookings"]
		return out, nil
	})
}

func kwargInt(kwargs map[string]any, key string) (int, error) {
	switch v := kwargs[key].(type) {
	case int:
		return v, nil
	case float64:
		return int(v), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, domain.Validationf("invalid %s %q", key, v)
		}
		return n, nil
	default:
		return 0, domain.Validationf("missing %s", key)
	}
}

func kwargTime(kwargs map[string]any, key string) (time.Time, error) {
	switch v := kwargs[key].(type) {
	case time.Time:
		return v, nil
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, domain.Validationf("invalid %s time %q", key, v)
		}
		return t, nil
	default:
		return time.Time{}, domain.Validationf("missing %s time", key)
	}
}
