package describe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// Embedder turns description text into search vectors via the model server's
// embeddings endpoint.
type Embedder struct {
	endpoint string
	model    string
	http     *http.Client
}

// NewEmbedder builds an embedder against the same server the describer uses.
func NewEmbedder(config Config) *Embedder {
	return &Embedder{
		endpoint: fmt.Sprintf("%s:%d/api/embeddings", config.BaseURL, config.Port),
		model:    config.EmbedModel,
		http:     &http.Client{Timeout: 2 * time.Minute},
	}
}

// Embed returns the embedding vector of content.
func (e *Embedder) Embed(ctx context.Context, content string) ([]float32, error) {
	payload, err := json.Marshal(map[string]string{
		"model":  e.model,
		"prompt": content,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode embedding request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build embedding request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "embedding request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("embedding request returned status %s", resp.Status)
	}

	var decoded struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, errors.Wrap(err, "failed to decode embedding response")
	}

	embedding := make([]float32, len(decoded.Embedding))
	for i, v := range decoded.Embedding {
		embedding[i] = float32(v)
	}
	return embedding, nil
}

// EmbedResult carries one finished embedding back to the requester.
type EmbedResult struct {
	Content   string
	Embedding []float32
	Error     error
}

type embedWork struct {
	content string
	result  chan<- EmbedResult
}

// EmbedService runs embedding requests on a worker pool and caches results,
// so repeated descriptions cost one model call.
type EmbedService struct {
	embedder *Embedder
	queue    chan embedWork
	cache    sync.Map
	wg       sync.WaitGroup
}

// NewEmbedService starts the worker pool. workers <= 0 picks a default.
func NewEmbedService(embedder *Embedder, workers int) *EmbedService {
	if workers <= 0 {
		workers = 4
	}

	service := &EmbedService{
		embedder: embedder,
		queue:    make(chan embedWork, 100),
	}
	for i := 0; i < workers; i++ {
		service.wg.Add(1)
		go service.worker()
	}
	return service
}

func (s *EmbedService) worker() {
	defer s.wg.Done()
	for work := range s.queue {
		if cached, ok := s.cache.Load(work.content); ok {
			if embedding, valid := cached.([]float32); valid {
				work.result <- EmbedResult{Content: work.content, Embedding: embedding}
				continue
			}
		}

		embedding, err := s.embedder.Embed(context.Background(), work.content)
		if err == nil {
			s.cache.Store(work.content, embedding)
		}
		work.result <- EmbedResult{Content: work.content, Embedding: embedding, Error: err}
	}
}

// Get requests an embedding asynchronously. When the queue is full the
// result carries an error immediately instead of blocking the caller.
func (s *EmbedService) Get(content string) <-chan EmbedResult {
	result := make(chan EmbedResult, 1)
	select {
	case s.queue <- embedWork{content: content, result: result}:
	default:
		result <- EmbedResult{
			Content: content,
			Error:   errors.New("embedding queue is full, try again later"),
		}
		close(result)
	}
	return result
}

// Close drains the pool and waits for in-flight work.
func (s *EmbedService) Close() {
	close(s.queue)
	s.wg.Wait()
}
