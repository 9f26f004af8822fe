// Package topics holds the built-in topic catalog and the rules every custom
// topic must satisfy.
package topics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/okian/bluffmeter/internal/domain/model"
)

var (
	ErrNotFound       = errors.New("topic not found")
	ErrInvalidTopic   = errors.New("invalid topic")
	ErrBuiltinID      = errors.New("topic id is reserved by a built-in topic")
	ErrNoTopicStorage = errors.New("custom topics are not stored")
)

var builtins = []model.Topic{ //nolint:gochecknoglobals // static catalog
	{
		ID:          "neural-networks",
		Title:       "Neural Networks",
		Description: "Backpropagation, gradient descent, activation functions, loss optimization, and architectures.",
		Kind:        model.TopicBuiltin,
		Concepts: []string{
			"Neurons & Layers", "Activation Functions", "Backpropagation", "Gradient Descent", "Loss Functions",
			"Overfitting & Regularization", "Learning Rate", "Weight Initialization", "Batch Normalization",
			"Convolutional Layers",
		},
	},
	{
		ID:          "databases",
		Title:       "Databases",
		Description: "Indexing, normalization, ACID, query optimization, and distributed storage.",
		Kind:        model.TopicBuiltin,
		Concepts: []string{
			"ACID Properties", "Normalization", "Indexing", "Query Optimization", "Joins", "Transactions",
			"CAP Theorem", "Sharding", "Replication", "SQL vs NoSQL",
		},
	},
	{
		ID:          "system-design",
		Title:       "System Design",
		Description: "Load balancing, caching, microservices, consistency models, and scalability patterns.",
		Kind:        model.TopicBuiltin,
		Concepts: []string{
			"Load Balancing", "Caching Strategies", "Microservices", "API Gateway", "Message Queues",
			"Consistency Models", "Database Partitioning", "CDN", "Rate Limiting", "Horizontal vs Vertical Scaling",
		},
	},
}

// Builtins returns copies of the static topics.
func Builtins() []model.Topic {
	out := make([]model.Topic, len(builtins))
	for i, t := range builtins {
		out[i] = clone(t)
	}
	return out
}

func builtin(id string) (model.Topic, bool) {
	for _, t := range builtins {
		if t.ID == id {
			return clone(t), true
		}
	}
	return model.Topic{}, false
}

func clone(t model.Topic) model.Topic {
	t.Concepts = append([]string(nil), t.Concepts...)
	return t
}

// Slug lowercases title and joins its words with dashes.
func Slug(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), "-")
}

// Validate checks the invariants of a topic definition.
func Validate(t model.Topic) error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("%w: id is empty", ErrInvalidTopic)
	}
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("%w: title is empty", ErrInvalidTopic)
	}
	if len(t.Concepts) == 0 {
		return fmt.Errorf("%w: no concepts", ErrInvalidTopic)
	}
	seen := make(map[string]struct{}, len(t.Concepts))
	for _, c := range t.Concepts {
		key := strings.ToLower(strings.TrimSpace(c))
		if key == "" {
			return fmt.Errorf("%w: empty concept name", ErrInvalidTopic)
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: duplicate concept %q", ErrInvalidTopic, c)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// Store persists custom topics.
type Store interface {
	SaveTopic(ctx context.Context, t model.Topic) error
	GetTopic(ctx context.Context, id string) (model.Topic, error)
	ListTopics(ctx context.Context) ([]model.Topic, error)
}

// Catalog merges the built-ins with stored custom topics. Built-ins win on
// id lookups.
type Catalog struct {
	store Store
	now   func() time.Time
}

// NewCatalog creates a catalog. store may be nil, in which case only the
// built-ins are served.
func NewCatalog(store Store) *Catalog {
	return &Catalog{store: store, now: time.Now}
}

// Get resolves a topic id.
func (c *Catalog) Get(ctx context.Context, id string) (model.Topic, error) {
	if t, ok := builtin(id); ok {
		return t, nil
	}
	if c.store == nil {
		return model.Topic{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	t, err := c.store.GetTopic(ctx, id)
	if err != nil {
		return model.Topic{}, fmt.Errorf("get topic %s: %w", id, err)
	}
	return t, nil
}

// List returns the built-ins followed by custom topics sorted by title.
func (c *Catalog) List(ctx context.Context) ([]model.Topic, error) {
	out := Builtins()
	if c.store == nil {
		return out, nil
	}
	custom, err := c.store.ListTopics(ctx)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	sort.SliceStable(custom, func(i, j int) bool { return custom[i].Title < custom[j].Title })
	return append(out, custom...), nil
}

// Create assigns an id when missing, validates and stores a custom topic.
// Resume and job description topics get a "resume-" or "jd-" prefixed slug;
// job roles get a random id.
func (c *Catalog) Create(ctx context.Context, t model.Topic) (model.Topic, error) {
	if c.store == nil {
		return model.Topic{}, ErrNoTopicStorage
	}
	t.Title = strings.TrimSpace(t.Title)
	concepts := make([]string, 0, len(t.Concepts))
	for _, name := range t.Concepts {
		concepts = append(concepts, strings.TrimSpace(name))
	}
	t.Concepts = concepts

	switch t.Kind {
	case model.TopicResume:
		t.ID = "resume-" + Slug(t.Title)
	case model.TopicJD:
		t.ID = "jd-" + Slug(t.Title)
	case model.TopicBuiltin:
		return model.Topic{}, fmt.Errorf("%w: built-in topics are static", ErrInvalidTopic)
	default:
		t.Kind = model.TopicJobRole
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
	}
	if _, ok := builtin(t.ID); ok {
		return model.Topic{}, fmt.Errorf("%w: %s", ErrBuiltinID, t.ID)
	}
	if err := Validate(t); err != nil {
		return model.Topic{}, err
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = c.now().UTC()
	}
	if err := c.store.SaveTopic(ctx, t); err != nil {
		return model.Topic{}, fmt.Errorf("save topic %s: %w", t.ID, err)
	}
	return t, nil
}
