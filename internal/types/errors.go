package types

import "errors"

// ErrUserBlocked is returned when an admin has deactivated the account.
var ErrUserBlocked = errors.New("user blocked by admin")
