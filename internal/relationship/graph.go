package relationship

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Graph is a bidirectional index of directed, labeled edges between record
// keys. Directionality is explicit: storing (a, p, b) does not imply
// (b, p, a). Edges live independently of records; either endpoint may name a
// key that has no stored record.
type Graph struct {
	logger *zap.Logger

	mu sync.RWMutex
	// forward: subject -> predicate -> set of objects
	forward map[string]map[string]map[string]struct{}
	// reverse: object -> subject -> set of predicates. Kept so Purge can
	// remove every edge touching a key in one lock hold.
	reverse map[string]map[string]map[string]struct{}
	edges   int
}

// NewGraph creates an empty relationship graph
func NewGraph(logger *zap.Logger) *Graph {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Graph{
		logger:  logger,
		forward: make(map[string]map[string]map[string]struct{}),
		reverse: make(map[string]map[string]map[string]struct{}),
	}
}

// Link stores the edge (subject, predicate, object). Returns false if the
// edge already existed.
func (g *Graph) Link(subject, predicate, object string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	preds, ok := g.forward[subject]
	if !ok {
		preds = make(map[string]map[string]struct{})
		g.forward[subject] = preds
	}
	objects, ok := preds[predicate]
	if !ok {
		objects = make(map[string]struct{})
		preds[predicate] = objects
	}
	if _, exists := objects[object]; exists {
		return false
	}
	objects[object] = struct{}{}

	subjects, ok := g.reverse[object]
	if !ok {
		subjects = make(map[string]map[string]struct{})
		g.reverse[object] = subjects
	}
	predicates, ok := subjects[subject]
	if !ok {
		predicates = make(map[string]struct{})
		subjects[subject] = predicates
	}
	predicates[predicate] = struct{}{}

	g.edges++
	return true
}

// Unlink removes the edge (subject, predicate, object). Returns false if the
// edge did not exist.
func (g *Graph) Unlink(subject, predicate, object string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.unlinkLocked(subject, predicate, object)
}

func (g *Graph) unlinkLocked(subject, predicate, object string) bool {
	objects := g.forward[subject][predicate]
	if _, exists := objects[object]; !exists {
		return false
	}

	delete(objects, object)
	if len(objects) == 0 {
		delete(g.forward[subject], predicate)
		if len(g.forward[subject]) == 0 {
			delete(g.forward, subject)
		}
	}

	if predicates, ok := g.reverse[object][subject]; ok {
		delete(predicates, predicate)
		if len(predicates) == 0 {
			delete(g.reverse[object], subject)
			if len(g.reverse[object]) == 0 {
				delete(g.reverse, object)
			}
		}
	}

	g.edges--
	return true
}

// Related returns the objects linked from subject under predicate, sorted
func (g *Graph) Related(subject, predicate string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	objects := g.forward[subject][predicate]
	out := make([]string, 0, len(objects))
	for object := range objects {
		out = append(out, object)
	}
	sort.Strings(out)
	return out
}

// RelatedTo returns the subjects that link to object under predicate, sorted
func (g *Graph) RelatedTo(object, predicate string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []string
	for subject, predicates := range g.reverse[object] {
		if _, ok := predicates[predicate]; ok {
			out = append(out, subject)
		}
	}
	sort.Strings(out)
	return out
}

// All returns every edge where key appears as subject or object
func (g *Graph) All(key string) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []Edge
	for predicate, objects := range g.forward[key] {
		for object := range objects {
			out = append(out, Edge{Subject: key, Predicate: predicate, Object: object})
		}
	}
	for subject, predicates := range g.reverse[key] {
		if subject == key {
			continue // self-edges already collected above
		}
		for predicate := range predicates {
			out = append(out, Edge{Subject: subject, Predicate: predicate, Object: key})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Subject != out[j].Subject {
			return out[i].Subject < out[j].Subject
		}
		if out[i].Predicate != out[j].Predicate {
			return out[i].Predicate < out[j].Predicate
		}
		return out[i].Object < out[j].Object
	})
	return out
}

// Purge removes every edge where key appears as subject or object, in one
// logically atomic step. Returns the removed edges.
func (g *Graph) Purge(key string) []Edge {
	g.mu.Lock()
	defer g.mu.Unlock()

	var removed []Edge
	for predicate, objects := range g.forward[key] {
		for object := range objects {
			removed = append(removed, Edge{Subject: key, Predicate: predicate, Object: object})
		}
	}
	for subject, predicates := range g.reverse[key] {
		if subject == key {
			continue
		}
		for predicate := range predicates {
			removed = append(removed, Edge{Subject: subject, Predicate: predicate, Object: key})
		}
	}

	for _, edge := range removed {
		g.unlinkLocked(edge.Subject, edge.Predicate, edge.Object)
	}

	if len(removed) > 0 {
		g.logger.Debug("Purged relationship edges",
			zap.String("key", key),
			zap.Int("edges", len(removed)))
	}
	return removed
}

// Stats returns graph statistics
func (g *Graph) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	predicates := make(map[string]struct{})
	for _, preds := range g.forward {
		for predicate := range preds {
			predicates[predicate] = struct{}{}
		}
	}
	return Stats{
		Edges:      g.edges,
		Subjects:   len(g.forward),
		Predicates: len(predicates),
	}
}

// Edge is one directed, labeled link
type Edge struct {
	Subject   string
	Predicate string
	Object    string
}

// Stats holds relationship graph statistics
type Stats struct {
	Edges      int
	Subjects   int
	Predicates int
}
