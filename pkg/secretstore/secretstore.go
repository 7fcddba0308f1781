package secretstore

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
)

// ErrNotOpened store 未打开
var ErrNotOpened = errors.New("secretstore: not opened")

// Store 交易所 API 凭证的本地加密存储（Badger 自带的静态加密）
type Store struct {
	db *badger.DB
}

type OpenOptions struct {
	Path          string
	EncryptionKey []byte // 32 字节；为空时不加密（不推荐）
	ReadOnly      bool
	// InMemory 测试用
	InMemory bool
}

func Open(opts OpenOptions) (*Store, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if strings.TrimSpace(opts.Path) == "" {
			return nil, errors.New("secretstore: path is required")
		}
		bopts = badger.DefaultOptions(opts.Path).WithReadOnly(opts.ReadOnly)
	}
	bopts = bopts.WithLogger(nil)
	if len(opts.EncryptionKey) > 0 {
		// 加密模式下 badger 要求开启索引缓存
		bopts = bopts.
			WithEncryptionKey(opts.EncryptionKey).
			WithIndexCacheSize(16 << 20)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("secretstore: open %s: %w", opts.Path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func normalizeKey(key string) ([]byte, error) {
	k := strings.TrimSpace(key)
	if k == "" {
		return nil, errors.New("secretstore: key is empty")
	}
	return []byte(k), nil
}

// GetString 读取；不存在时 found=false
func (s *Store) GetString(key string) (val string, found bool, err error) {
	if s == nil || s.db == nil {
		return "", false, ErrNotOpened
	}
	k, err := normalizeKey(key)
	if err != nil {
		return "", false, err
	}
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(v []byte) error {
			val = string(v)
			return nil
		})
	})
	return val, found, err
}

// SetString 写入
func (s *Store) SetString(key, val string) error {
	if s == nil || s.db == nil {
		return ErrNotOpened
	}
	k, err := normalizeKey(key)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, []byte(val))
	})
}

// Delete 删除（不存在不报错）
func (s *Store) Delete(key string) error {
	if s == nil || s.db == nil {
		return ErrNotOpened
	}
	k, err := normalizeKey(key)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(k)
	})
}

// Keys 列出指定前缀的全部 key（已排序，不读取值）
func (s *Store) Keys(prefix string) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotOpened
	}
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	sort.Strings(keys)
	return keys, err
}

// Credentials 交易所 API 凭证
type Credentials struct {
	APIKey    string
	APISecret string
}

// Empty 是否未配置
func (c Credentials) Empty() bool { return c.APIKey == "" || c.APISecret == "" }

// MaskedKey 展示用：只保留前后 4 位
func (c Credentials) MaskedKey() string {
	if len(c.APIKey) <= 8 {
		return strings.Repeat("*", len(c.APIKey))
	}
	return c.APIKey[:4] + strings.Repeat("*", len(c.APIKey)-8) + c.APIKey[len(c.APIKey)-4:]
}

func credentialKeys(exchange string) (string, string) {
	ex := strings.ToLower(strings.TrimSpace(exchange))
	return ex + "/api_key", ex + "/api_secret"
}

// SetCredentials 保存某交易所的 API 凭证
func (s *Store) SetCredentials(exchange string, c Credentials) error {
	if c.Empty() {
		return errors.New("secretstore: api key and secret are required")
	}
	kk, sk := credentialKeys(exchange)
	if err := s.SetString(kk, c.APIKey); err != nil {
		return err
	}
	return s.SetString(sk, c.APISecret)
}

// Credentials 读取某交易所的 API 凭证；未配置时 found=false
func (s *Store) Credentials(exchange string) (Credentials, bool, error) {
	kk, sk := credentialKeys(exchange)
	key, ok1, err := s.GetString(kk)
	if err != nil {
		return Credentials{}, false, err
	}
	secret, ok2, err := s.GetString(sk)
	if err != nil {
		return Credentials{}, false, err
	}
	if !ok1 || !ok2 {
		return Credentials{}, false, nil
	}
	return Credentials{APIKey: key, APISecret: secret}, true, nil
}

// ParseKey 解析 32 字节加密密钥（hex，可带 0x，或 base64）。空输入返回 nil。
func ParseKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if b, err := hex.DecodeString(strings.TrimPrefix(raw, "0x")); err == nil {
		if len(b) != 32 {
			return nil, fmt.Errorf("decoded key length must be 32, got %d", len(b))
		}
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(raw); err == nil {
		if len(b) != 32 {
			return nil, fmt.Errorf("decoded key length must be 32, got %d", len(b))
		}
		return b, nil
	}
	return nil, errors.New("key must be base64(32 bytes) or hex(32 bytes)")
}
