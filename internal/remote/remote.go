// Package remote keeps shared task lists in Redis. Each list is one hash
// whose fields are updated individually; every update is announced on a
// per-list channel so that all open readers refresh.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/keiwa-murasawa/stepbaby/internal/todo"
)

var ErrListNotFound = errors.New("list not found")

const (
	DefaultPrefix = "stepbaby"

	fieldTitle     = "title"
	fieldNickname  = "nickname"
	fieldBirthDate = "birthDate"
	fieldCreatedAt = "createdAt"
	fieldUpdatedAt = "updatedAt"
	fieldTodos     = "todos"
	fieldSeeded    = "seeded"

	maxUpdateRetries = 5
)

// Document is one shared list. Seeded lists the stages whose tasks have
// been written at least once.
type Document struct {
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	Nickname  string      `json:"nickname"`
	BirthDate string      `json:"birthDate"`
	CreatedAt string      `json:"createdAt"`
	UpdatedAt string      `json:"updatedAt"`
	Todos     []todo.Task `json:"todos"`
	Seeded    []string    `json:"seeded"`
}

type Client struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
	log    *slog.Logger

	// beforeCommit runs between the existence check and the write.
	beforeCommit func(ctx context.Context, id string)
}

type Option func(*Client)

func WithPrefix(p string) Option {
	return func(c *Client) { c.prefix = p }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// Dial parses a redis:// URL and checks the connection.
func Dial(ctx context.Context, rawURL string, opts ...Option) (*Client, error) {
	ropts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	rdb := redis.NewClient(ropts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return New(rdb, opts...), nil
}

func New(rdb *redis.Client, opts ...Option) *Client {
	c := &Client{
		rdb:    rdb,
		prefix: DefaultPrefix,
		now:    time.Now,
		log:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// NewListID returns a URL-safe document id.
func NewListID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewTaskID returns a task id for shared lists.
func NewTaskID() string {
	return uuid.NewString()
}

// ShareURL is the link handed to other people to open the list.
func ShareURL(base, id string) string {
	return strings.TrimRight(base, "/") + "/list/" + url.PathEscape(id)
}

func (c *Client) key(id string) string     { return c.prefix + ":list:" + id }
func (c *Client) channel(id string) string { return c.prefix + ":list:" + id + ":changed" }

func (c *Client) timestamp() string {
	return c.now().UTC().Format(time.RFC3339Nano)
}

// Create stores a new document under a fresh id and returns it.
func (c *Client) Create(ctx context.Context, doc Document) (Document, error) {
	if doc.ID == "" {
		doc.ID = NewListID()
	}
	ts := c.timestamp()
	doc.CreatedAt = ts
	doc.UpdatedAt = ts
	if doc.Todos == nil {
		doc.Todos = []todo.Task{}
	}
	if doc.Seeded == nil {
		doc.Seeded = []string{}
	}
	todos, err := json.Marshal(doc.Todos)
	if err != nil {
		return Document{}, err
	}
	seeded, err := json.Marshal(doc.Seeded)
	if err != nil {
		return Document{}, err
	}
	_, err = c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, c.key(doc.ID),
			fieldTitle, doc.Title,
			fieldNickname, doc.Nickname,
			fieldBirthDate, doc.BirthDate,
			fieldCreatedAt, doc.CreatedAt,
			fieldUpdatedAt, doc.UpdatedAt,
			fieldTodos, string(todos),
			fieldSeeded, string(seeded),
		)
		p.Publish(ctx, c.channel(doc.ID), doc.UpdatedAt)
		return nil
	})
	if err != nil {
		return Document{}, fmt.Errorf("create list: %w", err)
	}
	c.log.Info("shared list created", "id", doc.ID)
	return doc, nil
}

func (c *Client) Get(ctx context.Context, id string) (Document, error) {
	fields, err := c.rdb.HGetAll(ctx, c.key(id)).Result()
	if err != nil {
		return Document{}, fmt.Errorf("get list %s: %w", id, err)
	}
	if len(fields) == 0 {
		return Document{}, ErrListNotFound
	}
	doc := Document{
		ID:        id,
		Title:     fields[fieldTitle],
		Nickname:  fields[fieldNickname],
		BirthDate: fields[fieldBirthDate],
		CreatedAt: fields[fieldCreatedAt],
		UpdatedAt: fields[fieldUpdatedAt],
		Todos:     []todo.Task{},
		Seeded:    []string{},
	}
	if raw := fields[fieldTodos]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &doc.Todos); err != nil {
			return Document{}, fmt.Errorf("decode todos of %s: %w", id, err)
		}
	}
	if raw := fields[fieldSeeded]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &doc.Seeded); err != nil {
			return Document{}, fmt.Errorf("decode seeded of %s: %w", id, err)
		}
	}
	for i := range doc.Todos {
		doc.Todos[i].Normalize()
	}
	return doc, nil
}

// UpdateTodos replaces the whole todos array. Concurrent writers overwrite
// each other; the last write wins.
func (c *Client) UpdateTodos(ctx context.Context, id string, todos []todo.Task, seeded []string) error {
	if todos == nil {
		todos = []todo.Task{}
	}
	if seeded == nil {
		seeded = []string{}
	}
	rawTodos, err := json.Marshal(todos)
	if err != nil {
		return err
	}
	rawSeeded, err := json.Marshal(seeded)
	if err != nil {
		return err
	}
	return c.update(ctx, id, fieldTodos, string(rawTodos), fieldSeeded, string(rawSeeded))
}

func (c *Client) UpdateBirthDate(ctx context.Context, id, birthDate string) error {
	return c.update(ctx, id, fieldBirthDate, strings.TrimSpace(birthDate))
}

// update writes fields of an existing list. The existence check and the
// write share one WATCH transaction, so a list deleted meanwhile is never
// recreated as a partial hash.
func (c *Client) update(ctx context.Context, id string, fieldValues ...string) error {
	key := c.key(id)
	ts := c.timestamp()
	args := make([]any, 0, len(fieldValues)+2)
	for _, v := range fieldValues {
		args = append(args, v)
	}
	args = append(args, fieldUpdatedAt, ts)

	apply := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrListNotFound
		}
		if c.beforeCommit != nil {
			c.beforeCommit(ctx, id)
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, args...)
			p.Publish(ctx, c.channel(id), ts)
			return nil
		})
		return err
	}

	for range maxUpdateRetries {
		err := c.rdb.Watch(ctx, apply, key)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrListNotFound):
			return ErrListNotFound
		case errors.Is(err, redis.TxFailedErr):
			c.log.Debug("list changed during update, retrying", "id", id)
			continue
		default:
			return fmt.Errorf("update list %s: %w", id, err)
		}
	}
	return fmt.Errorf("update list %s: %w", id, redis.TxFailedErr)
}

// Watch calls fn with the current document and again after every change
// announced on the list's channel. A deleted or unknown list is reported as
// ErrListNotFound. The returned func stops watching and waits for the
// listener to exit.
func (c *Client) Watch(ctx context.Context, id string, fn func(Document, error)) (func(), error) {
	pubsub := c.rdb.Subscribe(ctx, c.channel(id))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", id, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		fn(c.Get(ctx, id))

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if msg == nil {
					continue
				}
				c.log.Debug("shared list changed", "id", id, "updatedAt", msg.Payload)
				doc, err := c.Get(ctx, id)
				if ctx.Err() != nil {
					return
				}
				fn(doc, err)
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			pubsub.Close()
			wg.Wait()
		})
	}
	return stop, nil
}
