// Package hash provides the CRC32-Castagnoli checksums recorded in backup
// manifests and verified on restore.
//
//	sum := hash.CRC32C(data)
//	if err := hash.Verify("prices/c/0.0", data, sum); err != nil {
//	    // errors.Is(err, hash.ErrChecksum)
//	}
package hash
