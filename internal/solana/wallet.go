package solana

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/skalibog/fgiagent/internal/execution"
)

// Wallet ключ кошелька, подписывающий бандлы
type Wallet struct {
	key ed25519.PrivateKey
	pub PublicKey
}

// NewWallet создает кошелек из приватного ключа
func NewWallet(key ed25519.PrivateKey) (*Wallet, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("некорректная длина ключа: %d", len(key))
	}
	w := &Wallet{key: key}
	copy(w.pub[:], key.Public().(ed25519.PublicKey))
	return w, nil
}

// ParseWallet разбирает ключ в base58 или в виде JSON-массива байт
func ParseWallet(secret string) (*Wallet, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("пустой приватный ключ")
	}

	var raw []byte
	if strings.HasPrefix(secret, "[") {
		var ints []int
		if err := json.Unmarshal([]byte(secret), &ints); err != nil {
			return nil, fmt.Errorf("ошибка разбора ключа: %w", err)
		}
		raw = make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("байт ключа вне диапазона: %d", v)
			}
			raw[i] = byte(v)
		}
	} else {
		b, err := base58.Decode(secret)
		if err != nil {
			return nil, fmt.Errorf("ошибка разбора ключа: %w", err)
		}
		raw = b
	}

	switch len(raw) {
	case ed25519.SeedSize:
		return NewWallet(ed25519.NewKeyFromSeed(raw))
	case ed25519.PrivateKeySize:
		key := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
		if string(key[ed25519.SeedSize:]) != string(raw[ed25519.SeedSize:]) {
			return nil, errors.New("публичная часть ключа не совпадает с секретной")
		}
		return NewWallet(key)
	}
	return nil, fmt.Errorf("некорректная длина ключа: %d", len(raw))
}

// PublicKey адрес кошелька в base58
func (w *Wallet) PublicKey() string {
	return w.pub.String()
}

// Address адрес кошелька
func (w *Wallet) Address() PublicKey {
	return w.pub
}

// BuildBundle подписывает своп и добавляет подписанный tip-перевод с тем же blockhash
func (w *Wallet) BuildBundle(unsignedSwap []byte, tip execution.Tip) ([][]byte, error) {
	swap, err := DecodeTransaction(unsignedSwap)
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора транзакции свопа: %w", err)
	}
	if err := swap.Sign(w.key); err != nil {
		return nil, err
	}

	if tip.Account == "" || tip.Lamports == 0 {
		return nil, errors.New("не задан tip для бандла")
	}
	to, err := ParsePublicKey(tip.Account)
	if err != nil {
		return nil, err
	}
	tipTx := NewTransfer(w.pub, to, tip.Lamports, swap.RecentBlockhash)
	if err := tipTx.Sign(w.key); err != nil {
		return nil, err
	}

	return [][]byte{swap.Serialize(), tipTx.Serialize()}, nil
}

// EncodeBase64 кодирует транзакции бандла для релея
func EncodeBase64(txs [][]byte) []string {
	out := make([]string, len(txs))
	for i, tx := range txs {
		out[i] = base64.StdEncoding.EncodeToString(tx)
	}
	return out
}
