package domain

// OrderRequest is a submission exactly as the client sent it. Quantities are
// kept as raw strings so that parsing is part of validation.
type OrderRequest struct {
	IdempotencyKey string            `json:"token"`
	Warehouse      string            `json:"warehouse"`
	Address        Address           `json:"address"`
	Contact        string            `json:"contact"`
	Message        string            `json:"message,omitempty"`
	Quantities     map[string]string `json:"quantities"`
	SharedAnswer   string            `json:"mama"`
	Challenge      string            `json:"challenge"`
	ImageAnswer    string            `json:"sitelen"`
	IP             string            `json:"-"`
}
