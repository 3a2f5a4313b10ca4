package memory

import (
	"context"
	"slices"
	"strings"

	"github.com/rbaliyan/mailstore/store"
)

type annotationMapper struct {
	store *Store
}

func (m *annotationMapper) Annotations(_ context.Context, mailbox *store.Mailbox, keys ...string) ([]store.Annotation, error) {
	st, err := m.store.state(mailbox)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	var out []store.Annotation
	if len(keys) == 0 {
		for k, v := range st.annotations {
			out = append(out, store.Annotation{Key: k, Value: v})
		}
	} else {
		for _, k := range keys {
			if v, ok := st.annotations[k]; ok {
				out = append(out, store.Annotation{Key: k, Value: v})
			}
		}
	}
	slices.SortFunc(out, func(a, b store.Annotation) int {
		return strings.Compare(a.Key, b.Key)
	})
	return out, nil
}

func (m *annotationMapper) SetAnnotations(_ context.Context, mailbox *store.Mailbox, annotations ...store.Annotation) error {
	st, err := m.store.state(mailbox)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, a := range annotations {
		if a.Value == "" {
			delete(st.annotations, a.Key)
			continue
		}
		st.annotations[a.Key] = a.Value
	}
	return nil
}
