// Package vectorindex stores chunk embedding vectors and answers
// nearest-neighbor queries. The primary backend is Qdrant over gRPC; a local
// in-memory scan takes over when the backend is unreachable.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"net"
	neturl "net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"

	"dupescope/internal/config"
	"dupescope/internal/models"
)

const rpcTimeout = 30 * time.Second

// Point is one chunk vector to index.
type Point struct {
	ChunkID string
	Vector  []float32
}

// QdrantClient wraps the Qdrant gRPC surface used by the index.
type QdrantClient struct {
	points      qdrant.PointsClient
	collections qdrant.CollectionsClient
	grpcConn    *grpc.ClientConn
}

func NewQdrantClient() (*QdrantClient, error) {
	addr := config.Get("QDRANT_URL", "qdrant_url")
	host, port, err := parseQdrantAddress(addr)
	if err != nil {
		return nil, err
	}

	cfg := &qdrant.Config{
		Host: host,
		Port: port,
	}
	if apiKey := config.Get("QDRANT_API_KEY", "qdrant_api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}

	grpcClient, err := qdrant.NewGrpcClient(cfg)
	if err != nil {
		return nil, err
	}

	return &QdrantClient{
		points:      grpcClient.Points(),
		collections: grpcClient.Collections(),
		grpcConn:    grpcClient.Conn(),
	}, nil
}

func parseQdrantAddress(raw string) (string, int, error) {
	const (
		defaultHost = "localhost"
		defaultPort = 6334
	)

	if strings.TrimSpace(raw) == "" {
		return defaultHost, defaultPort, nil
	}

	endpoint := strings.TrimSpace(raw)
	if strings.Contains(endpoint, "://") {
		parsed, err := neturl.Parse(endpoint)
		if err != nil {
			return "", 0, err
		}
		if parsed.Host == "" {
			return defaultHost, defaultPort, nil
		}
		endpoint = parsed.Host
	}

	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		var addrErr *net.AddrError
		if errors.As(err, &addrErr) && strings.Contains(addrErr.Err, "missing port") {
			return endpoint, defaultPort, nil
		}
		return "", 0, err
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	if host == "" {
		host = defaultHost
	}
	return host, port, nil
}

func (c *QdrantClient) Close() error {
	return c.grpcConn.Close()
}

// pointID derives a stable Qdrant point id from the chunk id.
func pointID(chunkID string) *qdrant.PointId {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID))
	return &qdrant.PointId{
		PointIdOptions: &qdrant.PointId_Uuid{Uuid: id.String()},
	}
}

// EnsureCollection creates the collection if missing. A collection with the
// wrong vector dimension is dropped and recreated.
func (c *QdrantClient) EnsureCollection(ctx context.Context, name string, vectorSize uint64) error {
	ctx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	info, err := c.collections.Get(ctx, &qdrant.GetCollectionInfoRequest{
		CollectionName: name,
	})
	if err == nil {
		if params := info.GetResult().GetConfig().GetParams(); params != nil {
			existingSize := params.GetVectorsConfig().GetParams().GetSize()
			if existingSize == vectorSize {
				return nil
			}
			if _, err := c.collections.Delete(ctx, &qdrant.DeleteCollection{
				CollectionName: name,
			}); err != nil {
				return fmt.Errorf("delete mismatched collection: %w", err)
			}
		} else {
			return nil
		}
	}

	_, err = c.collections.Create(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     vectorSize,
					Distance: qdrant.Distance_Cosine,
				},
			},
		},
	})
	return err
}

// DeleteCollection removes the collection and all its points.
func (c *QdrantClient) DeleteCollection(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	_, err := c.collections.Delete(ctx, &qdrant.DeleteCollection{
		CollectionName: name,
	})
	return err
}

// Upsert writes points with wait=true so a successful return means the points
// are queryable.
func (c *QdrantClient) Upsert(ctx context.Context, collection string, pts []Point) error {
	if len(pts) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	points := make([]*qdrant.PointStruct, 0, len(pts))
	for _, p := range pts {
		points = append(points, &qdrant.PointStruct{
			Id: pointID(p.ChunkID),
			Vectors: &qdrant.Vectors{
				VectorsOptions: &qdrant.Vectors_Vector{
					Vector: &qdrant.Vector{Data: p.Vector},
				},
			},
			Payload: map[string]*qdrant.Value{
				"chunk_id": {Kind: &qdrant.Value_StringValue{StringValue: p.ChunkID}},
			},
		})
	}

	wait := true
	_, err := c.points.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         points,
		Wait:           &wait,
	})
	return err
}

// Search returns the nearest neighbors of vector with similarity >= minSim,
// ordered by descending similarity.
func (c *QdrantClient) Search(ctx context.Context, collection string, vector []float32, limit uint64, minSim float64) ([]models.Neighbor, error) {
	ctx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	threshold := float32(minSim)
	resp, err := c.points.Search(ctx, &qdrant.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          limit,
		ScoreThreshold: &threshold,
		WithPayload: &qdrant.WithPayloadSelector{
			SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, err
	}

	neighbors := make([]models.Neighbor, 0, len(resp.Result))
	for _, hit := range resp.Result {
		cid := ""
		if v, ok := hit.GetPayload()["chunk_id"]; ok {
			cid = v.GetStringValue()
		}
		if cid == "" {
			continue
		}
		neighbors = append(neighbors, models.Neighbor{
			ChunkID:    cid,
			Similarity: float64(hit.GetScore()),
		})
	}
	return neighbors, nil
}
