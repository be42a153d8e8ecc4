//go:build !unix

package tailer

import "os"

// No portable file ID without opening the handle for GetFileInformationByHandle;
// rotation falls back to the size-shrink check.
func identityOf(os.FileInfo) Identity {
	return Identity{}
}
