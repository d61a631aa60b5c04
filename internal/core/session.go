package core

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"emhub/internal/sessions"
	"emhub/pkg/domain"
)

// WithSessionContainers binds the per-session artifact container manager.
// Session creation and deletion then keep the container in step with the
// entity record.
func WithSessionContainers(m *sessions.Manager) Option {
	return func(s *Service) { s.containers = m }
}

// CreateSession persists the session record and creates its artifact
// container. A session created without a data path is pointed at its own
// container name.
func (s *Service) CreateSession(ctx context.Context, sess domain.Session) (domain.Session, error) {
	var out domain.Session
	err := s.run(ctx, "create_session", func(tx domain.Tx) error {
		created, err := tx.CreateSession(ctx, sess)
		if err != nil {
			return err
		}
		if created.DataPath == "" {
			created, err = tx.UpdateSession(ctx, created.ID, func(sn *domain.Session) error {
				sn.DataPath = sn.ContainerName()
				return nil
			})
			if err != nil {
				return err
			}
		}
		out = created
		return nil
	})
	if err != nil {
		return domain.Session{}, err
	}
	if s.containers != nil {
		if err := s.containers.CreateContainer(ctx, out.ContainerName()); err != nil {
			// Keep the container invariant: no record without a container.
			_ = s.store.RunInTransaction(ctx, func(tx domain.Tx) error {
				return tx.DeleteSession(ctx, out.ID)
			})
			return domain.Session{}, err
		}
	}
	return out, nil
}

// UpdateSession applies mutate to the stored session.
func (s *Service) UpdateSession(ctx context.Context, id int, mutate func(*domain.Session) error) (domain.Session, error) {
	var out domain.Session
	err := s.run(ctx, "update_session", func(tx domain.Tx) error {
		var err error
		out, err = tx.UpdateSession(ctx, id, mutate)
		return err
	})
	return out, err
}

// DeleteSession removes the session record and its artifact container.
func (s *Service) DeleteSession(ctx context.Context, id int) error {
	var container string
	err := s.run(ctx, "delete_session", func(tx domain.Tx) error {
		sess, ok, err := tx.FindSession(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return domain.NotFoundError{Entity: domain.EntitySession, ID: id}
		}
		container = sess.ContainerName()
		return tx.DeleteSession(ctx, id)
	})
	if err != nil {
		return err
	}
	if s.containers != nil {
		return s.containers.DeleteContainer(ctx, container)
	}
	return nil
}

// GetSession fetches one session by id.
func (s *Service) GetSession(ctx context.Context, id int) (domain.Session, error) {
	var out domain.Session
	err := s.view(ctx, "get_session", func(v domain.TransactionView) error {
		sess, ok, err := v.FindSession(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return domain.NotFoundError{Entity: domain.EntitySession, ID: id}
		}
		out = sess
		return nil
	})
	return out, err
}

// ListSessions lists every session.
func (s *Service) ListSessions(ctx context.Context) ([]domain.Session, error) {
	var out []domain.Session
	err := s.view(ctx, "list_sessions", func(v domain.TransactionView) error {
		var err error
		out, err = v.ListSessions(ctx)
		return err
	})
	return out, err
}

var sessionNameRe = regexp.MustCompile(`^([a-z]{3})(\d{5})$`)

// NextSessionName mints the next session name for a three-letter facility
// code: names follow <code><5-digit counter>, starting at 1.
func (s *Service) NextSessionName(ctx context.Context, code string) (string, error) {
	if len(code) != 3 {
		return "", domain.Validationf("session name code must be three letters, got %q", code)
	}
	all, err := s.ListSessions(ctx)
	if err != nil {
		return "", err
	}
	next := 1
	for _, sess := range all {
		m := sessionNameRe.FindStringSubmatch(sess.Name)
		if m == nil || m[1] != code {
			continue
		}
		if n, err := strconv.Atoi(m[2]); err == nil && n >= next {
			next = n + 1
		}
	}
	return fmt.Sprintf("%s%05d", code, next), nil
}

func (s *Service) sessionContainer(ctx context.Context, id int) (string, error) {
	if s.containers == nil {
		return "", domain.Validationf("no session container storage is configured")
	}
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return "", err
	}
	return sess.ContainerName(), nil
}

// CreateSessionSet adds an item set to the session's container.
func (s *Service) CreateSessionSet(ctx context.Context, sessionID, setID int, attrs map[string]any) error {
	container, err := s.sessionContainer(ctx, sessionID)
	if err != nil {
		return err
	}
	return s.containers.CreateSet(ctx, container, setID, attrs)
}

// AddSessionItem stores an item with its attribute bag in a session set.
func (s *Service) AddSessionItem(ctx context.Context, sessionID, setID, itemID int, attrs map[string]any) error {
	container, err := s.sessionContainer(ctx, sessionID)
	if err != nil {
		return err
	}
	return s.containers.AddItem(ctx, container, setID, itemID, attrs)
}

// UpdateSessionItem merges attrs into an existing session item.
func (s *Service) UpdateSessionItem(ctx context.Context, sessionID, setID, itemID int, attrs map[string]any) error {
	container, err := s.sessionContainer(ctx, sessionID)
	if err != nil {
		return err
	}
	return s.containers.UpdateItem(ctx, container, setID, itemID, attrs)
}

// SessionItems lists the items of a session set, optionally projected to the
// given attributes.
func (s *Service) SessionItems(ctx context.Context, sessionID, setID int, projection []string) ([]map[string]any, error) {
	container, err := s.sessionContainer(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.containers.Items(ctx, container, setID, projection)
}

// SessionItem fetches one item of a session set.
func (s *Service) SessionItem(ctx context.Context, sessionID, setID, itemID int, projection []string) (map[string]any, error) {
	container, err := s.sessionContainer(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.containers.Item(ctx, container, setID, itemID, projection)
}
