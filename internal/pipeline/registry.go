package pipeline

import (
	"sort"
	"sync"
)

// registry is the single owner of pipeline contexts and of the mapping
// from queued task IDs back to the pipeline that enqueued them. All reads
// return clones; mutations go through update so no caller ever holds a
// live pointer into the map.
type registry struct {
	mu       sync.Mutex
	contexts map[string]*Context
	byTask   map[string]string
}

func newRegistry() *registry {
	return &registry{
		contexts: make(map[string]*Context),
		byTask:   make(map[string]string),
	}
}

func (r *registry) put(c *Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contexts[c.ID] = c.Clone()
}

func (r *registry) get(id string) (*Context, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contexts[id]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// update applies fn to the stored context under the registry lock and
// returns the resulting clone.
func (r *registry) update(id string, fn func(*Context)) (*Context, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contexts[id]
	if !ok {
		return nil, false
	}
	fn(c)
	return c.Clone(), true
}

func (r *registry) list() []*Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Context, 0, len(r.contexts))
	for _, c := range r.contexts {
		out = append(out, c.Clone())
	}
	return out
}

func (r *registry) bind(taskID, pipelineID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byTask[taskID] = pipelineID
}

func (r *registry) unbind(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byTask, taskID)
}

func (r *registry) resolve(taskID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byTask[taskID]
	return id, ok
}

func (r *registry) tasksFor(pipelineID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for taskID, id := range r.byTask {
		if id == pipelineID {
			out = append(out, taskID)
		}
	}
	return out
}

// release drops all task bindings for a pipeline that reached a terminal
// stage. The context itself stays queryable.
func (r *registry) release(pipelineID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for taskID, id := range r.byTask {
		if id == pipelineID {
			delete(r.byTask, taskID)
		}
	}
}

// state captures everything needed to persist and restore the registry.
type registryState struct {
	Contexts []*Context        `json:"pipelines"`
	ByTask   map[string]string `json:"task_bindings,omitempty"`
}

func (r *registry) exportState() registryState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := registryState{
		Contexts: make([]*Context, 0, len(r.contexts)),
		ByTask:   make(map[string]string, len(r.byTask)),
	}
	for _, c := range r.contexts {
		st.Contexts = append(st.Contexts, c.Clone())
	}
	sort.Slice(st.Contexts, func(i, j int) bool {
		if st.Contexts[i].CreatedAt.Equal(st.Contexts[j].CreatedAt) {
			return st.Contexts[i].ID < st.Contexts[j].ID
		}
		return st.Contexts[i].CreatedAt.Before(st.Contexts[j].CreatedAt)
	})
	for taskID, id := range r.byTask {
		st.ByTask[taskID] = id
	}
	return st
}

func (r *registry) importState(st registryState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contexts = make(map[string]*Context, len(st.Contexts))
	for _, c := range st.Contexts {
		r.contexts[c.ID] = c.Clone()
	}
	r.byTask = make(map[string]string, len(st.ByTask))
	for taskID, id := range st.ByTask {
		r.byTask[taskID] = id
	}
}
