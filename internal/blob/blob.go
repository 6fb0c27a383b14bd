// Package blob 保存上传的原始图片。
//
// 文件按上传日期分目录存放：YYYY/MM/DD/<uuid>.<ext>，Ref 即相对于存储根目录的路径。
// 底层文件系统使用 afero，生产环境为以 Root 为根的 BasePathFs，测试中可替换为 MemMapFs。
package blob

import (
	"context"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/ceyewan/scribesnap/clog"
	"github.com/ceyewan/scribesnap/xerrors"
)

// Ref 相对于存储根目录的 blob 路径，使用 "/" 分隔
type Ref string

func (r Ref) String() string { return string(r) }

// Object 交给提取服务的图片内容
type Object struct {
	Ref      Ref
	MIMEType string
	Data     []byte
}

// Store blob 存储接口
type Store interface {
	// Put 保存数据并返回新的 Ref，ext 不带点
	Put(ctx context.Context, data []byte, ext string) (Ref, error)

	// Open 打开已保存的 blob，不存在时返回 ErrNotFound
	Open(ctx context.Context, ref Ref) (afero.File, error)

	// Delete 删除 blob，不存在视为成功
	Delete(ctx context.Context, ref Ref) error

	// Resolve 校验并规范化外部传入的路径，拒绝逃逸出根目录的路径
	Resolve(raw string) (Ref, error)
}

// Config blob 存储配置
type Config struct {
	// Root 存储根目录，默认 ./storage
	Root string `mapstructure:"root"`
}

func (c *Config) setDefaults() {
	if c.Root == "" {
		c.Root = "./storage"
	}
}

type fsStore struct {
	fs     afero.Fs
	now    func() time.Time
	logger clog.Logger
}

// New 创建基于文件系统的 blob 存储
func New(cfg *Config, opts ...Option) (Store, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	c := *cfg
	c.setDefaults()

	o := &options{
		logger: clog.Discard(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	fs := o.fs
	if fs == nil {
		osFs := afero.NewOsFs()
		if err := osFs.MkdirAll(c.Root, 0o755); err != nil {
			return nil, xerrors.Wrapf(err, "blob: create root %s", c.Root)
		}
		fs = afero.NewBasePathFs(osFs, c.Root)
	}

	o.logger.Info("blob store ready", clog.String("root", c.Root))
	return &fsStore{fs: fs, now: o.now, logger: o.logger}, nil
}

func (s *fsStore) Put(ctx context.Context, data []byte, ext string) (Ref, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "" || strings.ContainsAny(ext, `/\`) {
		return "", xerrors.Wrapf(ErrInvalidRef, "extension %q", ext)
	}

	dir := s.now().UTC().Format("2006/01/02")
	ref := Ref(path.Join(dir, uuid.NewString()+"."+ext))

	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return "", xerrors.Wrapf(err, "blob: create dir %s", dir)
	}
	if err := afero.WriteFile(s.fs, string(ref), data, 0o644); err != nil {
		// 写入一半的文件没有意义
		_ = s.fs.Remove(string(ref))
		return "", xerrors.Wrapf(err, "blob: write %s", ref)
	}

	s.logger.DebugContext(ctx, "blob stored", clog.String("ref", ref.String()), clog.Int("size", len(data)))
	return ref, nil
}

func (s *fsStore) Open(ctx context.Context, ref Ref) (afero.File, error) {
	clean, err := s.Resolve(string(ref))
	if err != nil {
		return nil, err
	}
	f, err := s.fs.Open(string(clean))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, xerrors.Wrapf(ErrNotFound, "%s", clean)
		}
		return nil, xerrors.Wrapf(err, "blob: open %s", clean)
	}
	info, err := f.Stat()
	if err == nil && info.IsDir() {
		_ = f.Close()
		return nil, xerrors.Wrapf(ErrNotFound, "%s", clean)
	}
	return f, nil
}

func (s *fsStore) Delete(ctx context.Context, ref Ref) error {
	clean, err := s.Resolve(string(ref))
	if err != nil {
		return err
	}
	if err := s.fs.Remove(string(clean)); err != nil && !os.IsNotExist(err) {
		return xerrors.Wrapf(err, "blob: delete %s", clean)
	}
	s.logger.DebugContext(ctx, "blob deleted", clog.String("ref", clean.String()))
	return nil
}

func (s *fsStore) Resolve(raw string) (Ref, error) {
	if raw == "" || strings.ContainsRune(raw, 0) || strings.Contains(raw, `\`) {
		return "", xerrors.Wrapf(ErrInvalidRef, "%q", raw)
	}
	if strings.HasPrefix(raw, "/") {
		return "", xerrors.Wrapf(ErrInvalidRef, "absolute path %q", raw)
	}
	for _, seg := range strings.Split(raw, "/") {
		if seg == ".." {
			return "", xerrors.Wrapf(ErrInvalidRef, "path escapes root %q", raw)
		}
	}
	clean := path.Clean(raw)
	if clean == "." {
		return "", xerrors.Wrapf(ErrInvalidRef, "%q", raw)
	}
	return Ref(clean), nil
}

// ReadAll 读取整个 blob
func ReadAll(ctx context.Context, s Store, ref Ref) ([]byte, error) {
	f, err := s.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
