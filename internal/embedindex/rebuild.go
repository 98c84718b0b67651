package embedindex

import (
	"context"

	"github.com/ctxmem/engine/internal/store"
)

// RebuildFromStore loads every stored embedding for model from st,
// populates the side cache, and builds the ANN graph — the startup-time
// equivalent of the source's initialize_index.
func RebuildFromStore(ctx context.Context, st *store.Store, model string, params Params) (*Index, error) {
	embeddings, err := st.ListEmbeddingsForModel(ctx, model)
	if err != nil {
		return nil, err
	}

	dim := 0
	if len(embeddings) > 0 {
		dim = len(embeddings[0].Vector)
	}
	idx := New(dim, params)
	for _, e := range embeddings {
		idx.Add(e.MessageID, e.Vector)
	}
	idx.Build()
	return idx, nil
}
