package metadata

// PermissionDoc is a stored per-path permission entry. Declaration order
// matters: ties between equally-deep ancestors resolve to the first entry.
type PermissionDoc struct {
	Path     string `bson:"path" json:"path"`
	Readable bool   `bson:"readable" json:"readable"`
	Writable bool   `bson:"writable" json:"writable"`
}

// UserDoc is a credential document. The core only ever reads these; writes
// happen through the CLI.
type UserDoc struct {
	Login       string          `bson:"login" json:"login"`
	Password    string          `bson:"password" json:"password"`
	Permissions []PermissionDoc `bson:"permissions" json:"permissions"`
}
