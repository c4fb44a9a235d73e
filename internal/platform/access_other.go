//go:build !linux

package platform

func deviceAccessible(string) bool {
	return true
}
