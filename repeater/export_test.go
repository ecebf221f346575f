// Copyright (C) 2026 RDK Management. All Rights Reserved.

package repeater

import "github.com/rdkcmf/waymetric/client"

// FailForward makes every later forward of a clone by r report err. It must
// be called before the first commit reaches r.
func FailForward(r *Repeater, err error) {
	r.forward = func(*client.Surface, *client.Buffer) error { return err }
}
