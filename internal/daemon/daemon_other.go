//go:build !unix

package daemon

func Daemonize(files Files, prefix string) (int, func(), error) {
	return 0, nil, ErrUnsupported
}
