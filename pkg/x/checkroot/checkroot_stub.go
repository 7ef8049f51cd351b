//go:build !linux

package checkroot

func CheckNetAdmin() bool {
	return false
}

func CheckNetRaw() bool {
	return false
}

func CheckRoot() bool {
	return false
}

func Privileged() bool {
	return false
}
