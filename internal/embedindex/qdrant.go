package embedindex

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// qdrantIDField stores a message's original int64 id in the point
// payload, since Qdrant point ids must be a UUID or unsigned integer
// and a signed int64 message id doesn't always fit that.
const qdrantIDField = "_message_id"

// RemoteIndex mirrors embeddings into a Qdrant collection over its gRPC
// API, so a deployment with more vectors than comfortably fit in
// process memory can search a remote ANN index instead of the local
// graph. Grounded on internal/persistence/databases/qdrant_vector.go's
// qdrantVector, adapted from a generic string-keyed VectorStore to the
// int64 message ids embedindex.Index uses.
type RemoteIndex struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

// NewRemoteIndex connects to the Qdrant instance at dsn (its gRPC port,
// 6334 by default) and ensures collection exists with the given vector
// dimension, using cosine distance to match CosineSimilarity.
func NewRemoteIndex(ctx context.Context, dsn, collection string, dimension int) (*RemoteIndex, error) {
	if collection == "" {
		return nil, fmt.Errorf("embedindex: qdrant collection name is required")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("embedindex: parse qdrant dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("embedindex: invalid qdrant port: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("embedindex: create qdrant client: %w", err)
	}
	r := &RemoteIndex{client: client, collection: collection, dimension: dimension}
	if err := r.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return r, nil
}

func (r *RemoteIndex) ensureCollection(ctx context.Context) error {
	exists, err := r.client.CollectionExists(ctx, r.collection)
	if err != nil {
		return fmt.Errorf("embedindex: check qdrant collection: %w", err)
	}
	if exists {
		return nil
	}
	if r.dimension <= 0 {
		return fmt.Errorf("embedindex: qdrant requires dimension > 0")
	}
	err = r.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: r.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(r.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("embedindex: create qdrant collection: %w", err)
	}
	return nil
}

func messagePointID(messageID int64) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(strconv.FormatInt(messageID, 10))).String()
}

// Upsert mirrors Index.Add's vector into the remote collection.
func (r *RemoteIndex) Upsert(ctx context.Context, messageID int64, vector []float32) error {
	vec := make([]float32, len(vector))
	copy(vec, vector)
	point := &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(messagePointID(messageID)),
		Vectors: qdrant.NewVectorsDense(vec),
		Payload: qdrant.NewValueMap(map[string]any{qdrantIDField: messageID}),
	}
	_, err := r.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: r.collection,
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("embedindex: qdrant upsert %d: %w", messageID, err)
	}
	return nil
}

// Delete removes a message's vector from the remote collection.
func (r *RemoteIndex) Delete(ctx context.Context, messageID int64) error {
	_, err := r.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: r.collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(messagePointID(messageID))),
	})
	if err != nil {
		return fmt.Errorf("embedindex: qdrant delete %d: %w", messageID, err)
	}
	return nil
}

// Search queries the remote collection for the nearest vectors to
// query, returning up to limit matches with score >= threshold.
func (r *RemoteIndex) Search(ctx context.Context, query []float32, limit int, threshold float32) ([]Match, error) {
	if limit <= 0 {
		limit = 10
	}
	vec := make([]float32, len(query))
	copy(vec, query)
	lim := uint64(limit)
	hits, err := r.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: r.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &lim,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("embedindex: qdrant search: %w", err)
	}
	out := make([]Match, 0, len(hits))
	for _, hit := range hits {
		if float32(hit.Score) < threshold {
			continue
		}
		var messageID int64
		if hit.Payload != nil {
			if v, ok := hit.Payload[qdrantIDField]; ok {
				messageID = v.GetIntegerValue()
			}
		}
		out = append(out, Match{MessageID: messageID, Score: float32(hit.Score)})
	}
	return out, nil
}

// Close releases the underlying gRPC connection.
func (r *RemoteIndex) Close() error {
	return r.client.Close()
}
