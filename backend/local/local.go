// Package local backs a Context against the kernel's own IIO sysfs tree
// and chardev buffer interface (spec §4.6 "local backend"). Attribute
// I/O is a plain sysfs file read/write; when a direct write is rejected
// with permission-denied, an optional SSH tunnel re-issues the write
// against the same sysfs path on a remote host, grounded on the
// teacher's SSHAttributeWriter (internal/sdr/ssh_sysfs.go in the
// original tree).
package local

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/sys/unix"

	"github.com/rjboer/iiogo/internal/attr"
	"github.com/rjboer/iiogo/internal/backend"
	"github.com/rjboer/iiogo/internal/iiomodel"
	"github.com/rjboer/iiogo/internal/ioerr"
)

// Config configures the local backend's filesystem roots and optional
// SSH fallback for write-protected sysfs attributes.
type Config struct {
	SysfsRoot   string // default /sys/bus/iio/devices
	ChardevRoot string // default /dev
	SSH         *SSHConfig
}

// SSHConfig mirrors the teacher's sdr.SSHConfig, generalized away from
// PlutoSDR's fixed device/channel naming.
type SSHConfig struct {
	Host     string
	User     string
	Password string
	KeyPath  string
	Port     int
}

func (c Config) sysfsRoot() string {
	if c.SysfsRoot != "" {
		return c.SysfsRoot
	}
	return "/sys/bus/iio/devices"
}

func (c Config) chardevRoot() string {
	if c.ChardevRoot != "" {
		return c.ChardevRoot
	}
	return "/dev"
}

// Backend holds the local filesystem roots plus any open chardev
// handles keyed by the opaque buffer handle returned to iiomodel.
type Backend struct {
	cfg Config
	ssh *sshWriter
	ops *backend.Ops // stashed so Create can stamp it onto the returned Context

	mu      sync.Mutex
	buffers map[any]*bufferHandle
	nextID  int
}

type bufferHandle struct {
	dev  *iiomodel.Device
	file *os.File
}

// New constructs a Backend and its Ops v-table.
func New(cfg Config) (*Backend, *backend.Ops) {
	b := &Backend{cfg: cfg, buffers: make(map[any]*bufferHandle)}
	if cfg.SSH != nil {
		b.ssh = newSSHWriter(*cfg.SSH)
	}
	ops := &backend.Ops{
		Create:       b.create,
		ReadAttr:     b.readAttr,
		WriteAttr:    b.writeAttr,
		CreateBuffer: b.createBuffer,
		FreeBuffer:   b.freeBuffer,
		EnableBuffer: b.enableBuffer,
		CancelBuffer: b.cancelBuffer,
		ReadBuf:      b.readBuf,
		WriteBuf:     b.writeBuf,
		CreateBlock:  b.createBlockMapped,
		FreeBlock:    b.freeBlockMapped,
	}
	b.ops = ops
	return b, ops
}

// sysfsPath resolves an attribute's owning device/channel/buffer down to
// a concrete sysfs file path. Channel- and buffer-kind attributes live
// in the owning device's directory; debug attributes live under a
// "debug" subdirectory (spec §4.2, kernel IIO ABI convention).
func (b *Backend) sysfsPath(a *attr.Attribute) (string, error) {
	var deviceID string
	switch owner := a.Owner.(type) {
	case *iiomodel.Device:
		deviceID = owner.ID
	case *iiomodel.Channel:
		if owner.Device == nil {
			return "", ioerr.New(ioerr.NotFound, "channel has no owning device")
		}
		deviceID = owner.Device.ID
	case *iiomodel.Buffer:
		if owner.Device == nil {
			return "", ioerr.New(ioerr.NotFound, "buffer has no owning device")
		}
		deviceID = owner.Device.ID
	default:
		return "", ioerr.New(ioerr.NotFound, "attribute has no resolvable owner")
	}

	dir := filepath.Join(b.cfg.sysfsRoot(), deviceID)
	if a.Kind == attr.Debug {
		dir = filepath.Join(dir, "debug")
	}
	return filepath.Join(dir, a.Filename), nil
}

func (b *Backend) readAttr(a *attr.Attribute, cap int) (string, error) {
	path, err := b.sysfsPath(a)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", mapFileErr(err)
	}
	s := strings.TrimRight(string(data), "\n")
	if cap > 0 && len(s) > cap {
		s = s[:cap]
	}
	return s, nil
}

func (b *Backend) writeAttr(a *attr.Attribute, value string) (int, error) {
	path, err := b.sysfsPath(a)
	if err != nil {
		return 0, err
	}
	err = os.WriteFile(path, []byte(value), 0644)
	if err == nil {
		return len(value), nil
	}
	if os.IsPermission(err) && b.ssh != nil {
		if sshErr := b.ssh.write(context.Background(), path, value); sshErr == nil {
			return len(value), nil
		}
	}
	return 0, mapFileErr(err)
}

func mapFileErr(err error) error {
	switch {
	case os.IsNotExist(err):
		return ioerr.Wrap(ioerr.NotFound, "sysfs attribute not present", err)
	case os.IsPermission(err):
		return ioerr.Wrap(ioerr.Permission, "sysfs attribute is read-only", err)
	default:
		return ioerr.Wrap(ioerr.Broken, "sysfs I/O failed", err)
	}
}

func (b *Backend) createBuffer(dev *iiomodel.Device, index int, mask *iiomodel.ChannelsMask) (any, error) {
	name := dev.ID
	if index > 0 {
		name = fmt.Sprintf("%s:%d", dev.ID, index)
	}
	path := filepath.Join(b.cfg.chardevRoot(), name)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, mapFileErr(err)
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.buffers[id] = &bufferHandle{dev: dev, file: f}
	b.mu.Unlock()
	return id, nil
}

func (b *Backend) handleFor(h any) (*bufferHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bh, ok := b.buffers[h]
	if !ok {
		return nil, ioerr.New(ioerr.BadArgument, "unknown buffer handle")
	}
	return bh, nil
}

func (b *Backend) freeBuffer(h any) error {
	b.mu.Lock()
	bh, ok := b.buffers[h]
	if ok {
		delete(b.buffers, h)
	}
	b.mu.Unlock()
	if !ok {
		return nil
	}
	return bh.file.Close()
}

// enableBuffer writes the kernel's buffer/enable sysfs attribute
// (convention shared by every iio chardev-backed driver).
func (b *Backend) enableBuffer(h any, nbSamples int, enable bool) error {
	bh, err := b.handleFor(h)
	if err != nil {
		return err
	}
	path := filepath.Join(b.cfg.sysfsRoot(), bh.dev.ID, "buffer", "enable")
	val := "0"
	if enable {
		val = "1"
	}
	if err := os.WriteFile(path, []byte(val), 0644); err != nil {
		return mapFileErr(err)
	}
	if enable {
		lenPath := filepath.Join(b.cfg.sysfsRoot(), bh.dev.ID, "buffer", "length")
		_ = os.WriteFile(lenPath, []byte(fmt.Sprintf("%d", nbSamples)), 0644)
	}
	return nil
}

// cancelBuffer closes the chardev fd to unblock any pending Read/Write,
// matching the kernel's own cancellation semantics for chardev buffers.
func (b *Backend) cancelBuffer(h any) error {
	bh, err := b.handleFor(h)
	if err != nil {
		return err
	}
	return bh.file.Close()
}

func (b *Backend) readBuf(h any, data []byte) (int, error) {
	bh, err := b.handleFor(h)
	if err != nil {
		return 0, err
	}
	n, err := bh.file.Read(data)
	if err != nil && err != io.EOF {
		return n, mapFileErr(err)
	}
	return n, nil
}

func (b *Backend) writeBuf(h any, data []byte) (int, error) {
	bh, err := b.handleFor(h)
	if err != nil {
		return 0, err
	}
	n, err := bh.file.Write(data)
	if err != nil {
		return n, mapFileErr(err)
	}
	return n, nil
}

// createBlockMapped mmaps size bytes of the buffer's chardev fd
// (kernel DMA block API), grounded on golang.org/x/sys/unix the same
// way the serial transport uses it for termios (spec §4.5).
func (b *Backend) createBlockMapped(h any, size int) ([]byte, error) {
	bh, err := b.handleFor(h)
	if err != nil {
		return nil, err
	}
	mem, err := unix.Mmap(int(bh.file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		if err == unix.ENOSYS || err == unix.ENOTTY {
			return nil, ioerr.New(ioerr.Unsupported, "device does not support mapped buffers")
		}
		return nil, ioerr.Wrap(ioerr.Broken, "mmap failed", err)
	}
	return mem, nil
}

func (b *Backend) freeBlockMapped(h any, ptr []byte) error {
	if err := unix.Munmap(ptr); err != nil {
		return ioerr.Wrap(ioerr.Broken, "munmap failed", err)
	}
	return nil
}

// sshWriter re-issues a sysfs write over an SSH session, for kernels
// where the local process lacks permission but a privileged SSH
// account is reachable (spec §4.6 "write fallback").
type sshWriter struct {
	mu     sync.Mutex
	cfg    SSHConfig
	client *ssh.Client
}

func newSSHWriter(cfg SSHConfig) *sshWriter {
	if cfg.User == "" {
		cfg.User = "root"
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	return &sshWriter{cfg: cfg}
}

func (w *sshWriter) write(ctx context.Context, path, value string) error {
	client, err := w.dial(ctx)
	if err != nil {
		return err
	}
	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("create ssh session: %w", err)
	}
	defer session.Close()

	cmd := fmt.Sprintf("printf %s > %s", shellQuote(value), path)
	return session.Run(cmd)
}

func (w *sshWriter) dial(ctx context.Context) (*ssh.Client, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.client != nil {
		return w.client, nil
	}

	var auth []ssh.AuthMethod
	if w.cfg.Password != "" {
		auth = append(auth, ssh.Password(w.cfg.Password))
	}
	if w.cfg.KeyPath != "" {
		key, err := os.ReadFile(w.cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse ssh key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no ssh password or key configured")
	}

	config := &ssh.ClientConfig{
		User:            w.cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	}
	addr := fmt.Sprintf("%s:%d", w.cfg.Host, w.cfg.Port)
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial ssh: %w", err)
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		return nil, fmt.Errorf("create ssh client: %w", err)
	}
	w.client = ssh.NewClient(clientConn, chans, reqs)
	return w.client, nil
}

func shellQuote(value string) string {
	escaped := strings.ReplaceAll(value, "'", "'\\''")
	return fmt.Sprintf("'%s'", escaped)
}
