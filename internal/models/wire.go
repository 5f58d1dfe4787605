package models

// Remote endpoint paths.
const (
	EndpointRegister = "/v1/register"
	EndpointPatch    = "/v1/patch"
	EndpointDelete   = "/v1/delete"
	EndpointRoot     = "/v1/root"
)

// Identity is the opaque credential pair passed through on every call.
type Identity struct {
	UserID    string `json:"userId"`
	SecretKey string `json:"secretKey"`
}

// RegisterRequest uploads full content for an untracked document.
type RegisterRequest struct {
	Path    string `json:"path"`
	Root    string `json:"root"`
	Content string `json:"content"`
	Identity
}

// RegisterResponse carries the authoritative shadow to adopt.
type RegisterResponse struct {
	Status  int    `json:"status"`
	UserID  string `json:"userId,omitempty"`
	Content string `json:"content"`
}

// PatchRequest is the SyncRequest of one differential round.
type PatchRequest struct {
	Path     string `json:"path"`
	Checksum string `json:"checksum"`
	Patch    string `json:"patch"`
	Root     string `json:"root"`
	Identity
}

// PatchResponse is the SyncResponse of one differential round.
type PatchResponse struct {
	Status   int    `json:"status"`
	Patch    string `json:"patch"`
	Checksum string `json:"checksum"`
	Content  string `json:"content"`
}

// DeleteRequest removes a document remotely.
type DeleteRequest struct {
	Path string `json:"path"`
	Root string `json:"root"`
	Identity
}

// DeleteResponse reports the outcome of a delete.
type DeleteResponse struct {
	Status int `json:"status"`
}

// RootRequest registers a namespace (Root empty) or fetches its manifest.
type RootRequest struct {
	Root string `json:"root,omitempty"`
	Identity
}

// RootResponse carries the namespace identifier and its manifest.
type RootResponse struct {
	Status  int      `json:"status"`
	Root    string   `json:"root"`
	Tree    []string `json:"tree"`
	Content string   `json:"content,omitempty"`
}

// Statused is implemented by every response so transports can default the
// status from the HTTP layer.
type Statused interface {
	StatusCode() int
	SetStatusCode(code int)
}

func (r *RegisterResponse) StatusCode() int        { return r.Status }
func (r *RegisterResponse) SetStatusCode(code int) { r.Status = code }
func (r *PatchResponse) StatusCode() int           { return r.Status }
func (r *PatchResponse) SetStatusCode(code int)    { r.Status = code }
func (r *DeleteResponse) StatusCode() int          { return r.Status }
func (r *DeleteResponse) SetStatusCode(code int)   { r.Status = code }
func (r *RootResponse) StatusCode() int            { return r.Status }
func (r *RootResponse) SetStatusCode(code int)     { r.Status = code }
