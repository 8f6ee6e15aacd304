package types

import "fmt"

// Workspace is the unit that owns a versioned project.
type Workspace struct {
	ID       string
	ParentID string // owning project
	Name     string
}

// WorkspaceFromDocument converts a Workspace document.
func WorkspaceFromDocument(d *Document) (*Workspace, error) {
	if d == nil || d.Type != TypeWorkspace {
		return nil, fmt.Errorf("not a workspace document")
	}
	return &Workspace{ID: d.ID, ParentID: d.ParentID, Name: d.String("name")}, nil
}

// Document converts the workspace back into its database form.
func (w *Workspace) Document() *Document {
	d := &Document{ID: w.ID, Type: TypeWorkspace, ParentID: w.ParentID}
	d.Set("name", w.Name)
	return d
}

// WorkspaceMeta carries per-workspace settings, including the remote
// repository association. A workspace has at most one.
type WorkspaceMeta struct {
	ID              string
	ParentID        string // workspace id
	GitRepositoryID string
}

// WorkspaceMetaFromDocument converts a WorkspaceMeta document.
func WorkspaceMetaFromDocument(d *Document) (*WorkspaceMeta, error) {
	if d == nil || d.Type != TypeWorkspaceMeta {
		return nil, fmt.Errorf("not a workspace meta document")
	}
	return &WorkspaceMeta{
		ID:              d.ID,
		ParentID:        d.ParentID,
		GitRepositoryID: d.String("gitRepositoryId"),
	}, nil
}

// Document converts the meta back into its database form.
func (m *WorkspaceMeta) Document() *Document {
	d := &Document{ID: m.ID, Type: TypeWorkspaceMeta, ParentID: m.ParentID}
	if m.GitRepositoryID != "" {
		d.Set("gitRepositoryId", m.GitRepositoryID)
	} else {
		d.Set("gitRepositoryId", nil)
	}
	return d
}

// Credentials authenticate against the remote.
type Credentials struct {
	Username string
	Token    string
}

// Author is the identity recorded on commits.
type Author struct {
	Name  string
	Email string
}

// GitRepository is the remote association of a workspace.
type GitRepository struct {
	ID             string
	URI            string
	Credentials    Credentials
	Author         Author
	NeedsFullClone bool
}

// GitRepositoryFromDocument converts a GitRepository document.
func GitRepositoryFromDocument(d *Document) (*GitRepository, error) {
	if d == nil || d.Type != TypeGitRepository {
		return nil, fmt.Errorf("not a git repository document")
	}
	repo := &GitRepository{
		ID:             d.ID,
		URI:            d.String("uri"),
		NeedsFullClone: d.Bool("needsFullClone"),
	}
	if c := d.Map("credentials"); c != nil {
		repo.Credentials.Username, _ = c["username"].(string)
		repo.Credentials.Token, _ = c["token"].(string)
	}
	if a := d.Map("author"); a != nil {
		repo.Author.Name, _ = a["name"].(string)
		repo.Author.Email, _ = a["email"].(string)
	}
	return repo, nil
}

// Document converts the repository back into its database form.
func (r *GitRepository) Document() *Document {
	d := &Document{ID: r.ID, Type: TypeGitRepository}
	d.Set("uri", r.URI)
	d.Set("needsFullClone", r.NeedsFullClone)
	d.Set("credentials", map[string]any{
		"username": r.Credentials.Username,
		"token":    r.Credentials.Token,
	})
	d.Set("author", map[string]any{
		"name":  r.Author.Name,
		"email": r.Author.Email,
	})
	return d
}

// Validate checks that the association is usable.
func (r *GitRepository) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("id is required")
	}
	if r.URI == "" {
		return fmt.Errorf("uri is required")
	}
	return nil
}

// SameAssociation reports whether two repository configs would initialize the
// engine identically. NeedsFullClone only counts when it is set, since the
// coordinator clears it itself.
func (r *GitRepository) SameAssociation(o *GitRepository) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.ID == o.ID &&
		r.URI == o.URI &&
		r.Credentials == o.Credentials &&
		r.Author == o.Author &&
		!o.NeedsFullClone
}
