//go:build !linux

package netns

type Scope struct{}

func Enter(mods ...func(*enterParams)) (*Scope, error) {
	return nil, ErrNotImplemented
}

func SetSysctl(name string, value string) error {
	return ErrNotImplemented
}

func (s *Scope) Close() error {
	return nil
}
