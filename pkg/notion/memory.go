package notion

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jacobrmount/Acrostic/pkg/jsonvalue"
)

// MemorySource is an in-process Source for tests and offline runs. Tokens
// without a registered workspace are rejected with ErrUnauthorized.
type MemorySource struct {
	mu         sync.RWMutex
	workspaces map[string]Workspace
	databases  map[string][]Object
	pages      map[string][]Object

	searches atomic.Int64
	queries  atomic.Int64
}

func NewMemorySource() *MemorySource {
	return &MemorySource{
		workspaces: make(map[string]Workspace),
		databases:  make(map[string][]Object),
		pages:      make(map[string][]Object),
	}
}

func (s *MemorySource) AddWorkspace(token string, ws Workspace) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workspaces[token] = ws
}

func (s *MemorySource) RemoveWorkspace(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workspaces, token)
}

func (s *MemorySource) SetDatabases(token string, databases ...Object) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.databases[token] = databases
}

func (s *MemorySource) SetPages(databaseID string, pages ...Object) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[databaseID] = pages
}

// Searches returns how many search calls have been served
func (s *MemorySource) Searches() int64 {
	return s.searches.Load()
}

func (s *MemorySource) Queries() int64 {
	return s.queries.Load()
}

func (s *MemorySource) Me(ctx context.Context, token string) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ws, ok := s.workspaces[token]
	if !ok {
		return Workspace{}, &APIError{Status: 401, Code: "unauthorized", Message: "API token is invalid."}
	}
	return ws, nil
}

func (s *MemorySource) Search(ctx context.Context, token string, req SearchRequest) (ListResponse, error) {
	s.searches.Add(1)
	if _, err := s.Me(ctx, token); err != nil {
		return ListResponse{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return paginate(s.databases[token], req.StartCursor, req.PageSize), nil
}

func (s *MemorySource) QueryDatabase(ctx context.Context, token, databaseID string, req QueryRequest) (ListResponse, error) {
	s.queries.Add(1)
	if _, err := s.Me(ctx, token); err != nil {
		return ListResponse{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return paginate(s.pages[databaseID], req.StartCursor, req.PageSize), nil
}

// paginate serves objects pageSize at a time; the cursor is the next offset
func paginate(objects []Object, cursor string, pageSize int) ListResponse {
	offset, _ := strconv.Atoi(cursor)
	if offset < 0 || offset > len(objects) {
		offset = len(objects)
	}

	end := len(objects)
	if pageSize > 0 && offset+pageSize < end {
		end = offset + pageSize
	}

	resp := ListResponse{Object: "list", Results: append([]Object(nil), objects[offset:end]...)}
	if end < len(objects) {
		resp.HasMore = true
		resp.NextCursor = strconv.Itoa(end)
	}
	return resp
}

// DatabaseObject builds a database result the way search returns it
func DatabaseObject(id, title string) Object {
	return Object{
		Object: ObjectDatabase,
		ID:     id,
		URL:    "https://www.notion.so/" + strings.ReplaceAll(id, "-", ""),
		Title:  []RichText{{Type: "text", PlainText: title}},
		Parent: Parent{Type: "workspace", Workspace: true},
	}
}

// TaskPage builds a database row with a title, a checkbox and an optional due date
func TaskPage(id, databaseID, title string, completed bool, due string) Object {
	props := map[string]jsonvalue.Value{
		"Name": jsonvalue.NewObject(map[string]jsonvalue.Value{
			"type": jsonvalue.NewString("title"),
			"title": jsonvalue.NewArray(jsonvalue.NewObject(map[string]jsonvalue.Value{
				"type":       jsonvalue.NewString("text"),
				"plain_text": jsonvalue.NewString(title),
			})),
		}),
		"Done": jsonvalue.NewObject(map[string]jsonvalue.Value{
			"type":     jsonvalue.NewString("checkbox"),
			"checkbox": jsonvalue.NewBool(completed),
		}),
	}
	if due != "" {
		props["Due"] = jsonvalue.NewObject(map[string]jsonvalue.Value{
			"type": jsonvalue.NewString("date"),
			"date": jsonvalue.NewObject(map[string]jsonvalue.Value{
				"start": jsonvalue.NewString(due),
			}),
		})
	}

	return Object{
		Object:     ObjectPage,
		ID:         id,
		URL:        "https://www.notion.so/" + strings.ReplaceAll(id, "-", ""),
		Properties: props,
		Parent:     Parent{Type: "database_id", DatabaseID: databaseID},
	}
}
