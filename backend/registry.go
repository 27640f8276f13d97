package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/claritylab/claritylab/commons"
	"github.com/claritylab/claritylab/datastructures"
)

// lazy builds a value on first use and keeps it. A failed build is not kept.
// Builds are serialized by mu; a finished value is published through done so
// readers never wait on a build in progress.
type lazy[T any] struct {
	name  string
	build func(ctx context.Context) (T, error)

	mu   sync.Mutex
	done atomic.Pointer[T]
}

func (l *lazy[T]) get(ctx context.Context) (T, error) {
	if v := l.done.Load(); v != nil {
		return *v, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if v := l.done.Load(); v != nil {
		return *v, nil
	}

	var zero T
	if l.build == nil {
		return zero, fmt.Errorf("%w: no %s backend configured", ErrUnavailable, l.name)
	}

	log.Debug("[Registry] Constructing ", l.name, " backend")
	v, err := l.build(ctx)
	if err != nil {
		log.WithField("backend", l.name).Error("[Registry] Couldn't construct backend: ", err.Error())
		return zero, fmt.Errorf("%w: %s: %v", ErrUnavailable, l.name, err)
	}
	commons.BackendConstructions.WithLabelValues(l.name).Inc()
	log.Info("[Registry] ", l.name, " backend ready")

	l.done.Store(&v)
	return v, nil
}

func (l *lazy[T]) peek() (T, bool) {
	if v := l.done.Load(); v != nil {
		return *v, true
	}
	var zero T
	return zero, false
}

// Registry hands out the process-wide text and image classifiers. Each is
// constructed on first demand and reused afterwards; concurrent first calls
// wait for a single construction and observe the same instance.
type Registry struct {
	text  lazy[TextClassifier]
	image lazy[ImageClassifier]
}

func NewRegistry(newText TextFactory, newImage ImageFactory) *Registry {
	return &Registry{
		text:  lazy[TextClassifier]{name: "text", build: newText},
		image: lazy[ImageClassifier]{name: "image", build: newImage},
	}
}

func (r *Registry) TextBackend(ctx context.Context) (TextClassifier, error) {
	return r.text.get(ctx)
}

func (r *Registry) ImageBackend(ctx context.Context) (ImageClassifier, error) {
	return r.image.get(ctx)
}

// Warm constructs both backends concurrently.
func (r *Registry) Warm(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := r.TextBackend(ctx)
		return err
	})
	g.Go(func() error {
		_, err := r.ImageBackend(ctx)
		return err
	})
	return g.Wait()
}

// Loaded reports which backends have been constructed so far.
func (r *Registry) Loaded() (text, image bool) {
	_, text = r.text.peek()
	_, image = r.image.peek()
	return text, image
}

// Models returns the model info of the constructed backends that can describe
// themselves. It never triggers a construction.
func (r *Registry) Models() (text, image *datastructures.ModelInfo) {
	if t, ok := r.text.peek(); ok {
		if d, ok := t.(Describer); ok {
			info := d.ModelInfo()
			text = &info
		}
	}
	if i, ok := r.image.peek(); ok {
		if d, ok := i.(Describer); ok {
			info := d.ModelInfo()
			image = &info
		}
	}
	return text, image
}

// Close releases the constructed backends that hold resources, such as
// model sessions or API clients.
func (r *Registry) Close() error {
	var errs []error
	if t, ok := r.text.peek(); ok {
		if c, ok := t.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	if i, ok := r.image.peek(); ok {
		if c, ok := i.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
