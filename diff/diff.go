// Package diff computes one-sided set differences between the content
// hashes a local checkout knows about and the content hashes a backend has
// already stored. The upload operator uses it to decide what still needs
// uploading.
package diff

import "github.com/firmament-sync/firmament"

// Missing returns the hashes present in local but absent from remote, in no
// particular order.
//
// Nb: this is sized for one checkout's working set, not a whole-repository
// audit; it holds both sides in memory, the same tradeoff a two-sided
// file+chunk delta accepts for its own comparison pass.
func Missing(local, remote map[firmament.ContentHash]struct{}) []firmament.ContentHash {
	var missing []firmament.ContentHash
	for h := range local {
		if _, ok := remote[h]; !ok {
			missing = append(missing, h)
		}
	}
	return missing
}
