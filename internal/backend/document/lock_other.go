//go:build !unix

package document

import "os"

// Advisory locking is only available on unix; elsewhere writers are not
// serialized across processes.
func tryLock(*os.File, bool) (bool, error) { return true, nil }

func unlock(*os.File) error { return nil }
