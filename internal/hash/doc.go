// Package hash provides the checksums and content digests used across the
// registry and the packer.
//
// CRC32-Castagnoli guards individual bundles inside binary shards, where a
// cheap per-read check is enough:
//
//	crc := hash.CRC32C(bundle)
//
// SHA-256 digests identify serialized content. Two encodings of the same
// entity set produce the same digest, which lets remote writes be skipped
// when nothing changed:
//
//	d := hash.NewDigester()
//	d.Write(line1)
//	d.Write(line2)
//	sum := d.Sum() // "sha256:<hex>"
package hash
