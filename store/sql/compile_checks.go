package sqlstore

import "github.com/goliatone/go-userhooks/core"

var (
	_ core.RunStore       = (*RunStore)(nil)
	_ core.UserRepository = (*UserStore)(nil)
	_ core.UserReader     = (*UserStore)(nil)
)
