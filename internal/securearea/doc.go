// Package securearea implements the narrow sign/agree-key contract behind
// mdoc device keys. The software implementation here keeps P-256 keys in an
// encrypted file store or in memory; the interface it satisfies is the one a
// hardware-backed secure element would.
package securearea
