// Package solana кодек транзакций Solana в объеме, нужном агенту:
// разбор legacy и v0 транзакций, подпись в слоте кошелька и
// сборка перевода System Program для tip.
package solana

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

const (
	PublicKeySize = 32
	SignatureSize = 64

	versionPrefix = 0x80
)

// SystemProgramID адрес System Program: 32 нулевых байта
var SystemProgramID PublicKey

// PublicKey адрес аккаунта
type PublicKey [PublicKeySize]byte

func (k PublicKey) String() string {
	return base58.Encode(k[:])
}

// ParsePublicKey разбирает base58 адрес
func ParsePublicKey(s string) (PublicKey, error) {
	var k PublicKey
	b, err := base58.Decode(s)
	if err != nil {
		return k, fmt.Errorf("некорректный адрес %q: %w", s, err)
	}
	if len(b) != PublicKeySize {
		return k, fmt.Errorf("некорректная длина адреса %q: %d", s, len(b))
	}
	copy(k[:], b)
	return k, nil
}

// Header заголовок сообщения
type Header struct {
	NumRequiredSignatures       uint8
	NumReadonlySignedAccounts   uint8
	NumReadonlyUnsignedAccounts uint8
}

// Transaction разобранная транзакция. Message хранит сообщение целиком,
// остальные поля - разобранный префикс сообщения.
type Transaction struct {
	Signatures      [][SignatureSize]byte
	Message         []byte
	Versioned       bool
	Header          Header
	AccountKeys     []PublicKey
	RecentBlockhash [32]byte
}

var errShort = errors.New("транзакция обрезана")

// DecodeTransaction разбирает сериализованную транзакцию
func DecodeTransaction(raw []byte) (*Transaction, error) {
	r := bytes.NewReader(raw)
	n, err := readShortVec(r)
	if err != nil {
		return nil, fmt.Errorf("число подписей: %w", err)
	}
	if n*SignatureSize > r.Len() {
		return nil, errShort
	}

	tx := &Transaction{Signatures: make([][SignatureSize]byte, n)}
	for i := range tx.Signatures {
		if _, err := readFull(r, tx.Signatures[i][:]); err != nil {
			return nil, fmt.Errorf("подпись %d: %w", i, err)
		}
	}

	tx.Message = raw[len(raw)-r.Len():]
	if err := tx.parseMessage(); err != nil {
		return nil, err
	}
	if int(tx.Header.NumRequiredSignatures) != len(tx.Signatures) {
		return nil, fmt.Errorf("подписей %d, а заголовок требует %d", len(tx.Signatures), tx.Header.NumRequiredSignatures)
	}
	return tx, nil
}

func (tx *Transaction) parseMessage() error {
	r := bytes.NewReader(tx.Message)
	first, err := r.ReadByte()
	if err != nil {
		return errShort
	}
	if first&versionPrefix != 0 {
		if v := first &^ versionPrefix; v != 0 {
			return fmt.Errorf("неподдерживаемая версия сообщения: %d", v)
		}
		tx.Versioned = true
	} else {
		if err := r.UnreadByte(); err != nil {
			return err
		}
	}

	var h [3]byte
	if _, err := readFull(r, h[:]); err != nil {
		return fmt.Errorf("заголовок: %w", err)
	}
	tx.Header = Header{h[0], h[1], h[2]}

	n, err := readShortVec(r)
	if err != nil {
		return fmt.Errorf("число аккаунтов: %w", err)
	}
	if n*PublicKeySize > r.Len() {
		return errShort
	}
	tx.AccountKeys = make([]PublicKey, n)
	for i := range tx.AccountKeys {
		if _, err := readFull(r, tx.AccountKeys[i][:]); err != nil {
			return fmt.Errorf("аккаунт %d: %w", i, err)
		}
	}
	if n < int(tx.Header.NumRequiredSignatures) {
		return fmt.Errorf("аккаунтов %d меньше числа подписантов %d", n, tx.Header.NumRequiredSignatures)
	}

	if _, err := readFull(r, tx.RecentBlockhash[:]); err != nil {
		return fmt.Errorf("blockhash: %w", err)
	}
	return nil
}

// Sign подписывает сообщение ключом в слоте подписанта с тем же адресом
func (tx *Transaction) Sign(key ed25519.PrivateKey) error {
	var pub PublicKey
	copy(pub[:], key.Public().(ed25519.PublicKey))

	for i := 0; i < int(tx.Header.NumRequiredSignatures); i++ {
		if tx.AccountKeys[i] == pub {
			copy(tx.Signatures[i][:], ed25519.Sign(key, tx.Message))
			return nil
		}
	}
	return fmt.Errorf("кошелек %s не является подписантом транзакции", pub)
}

// Verify проверяет все подписи транзакции
func (tx *Transaction) Verify() bool {
	for i, sig := range tx.Signatures {
		if !ed25519.Verify(ed25519.PublicKey(tx.AccountKeys[i][:]), tx.Message, sig[:]) {
			return false
		}
	}
	return true
}

// Serialize сериализует транзакцию
func (tx *Transaction) Serialize() []byte {
	var buf bytes.Buffer
	writeShortVec(&buf, len(tx.Signatures))
	for _, s := range tx.Signatures {
		buf.Write(s[:])
	}
	buf.Write(tx.Message)
	return buf.Bytes()
}

// ID первая подпись в base58, идентификатор транзакции в сети
func (tx *Transaction) ID() string {
	if len(tx.Signatures) == 0 {
		return ""
	}
	return base58.Encode(tx.Signatures[0][:])
}

// NewTransfer собирает неподписанный legacy перевод лампортов через System Program
func NewTransfer(from, to PublicKey, lamports uint64, blockhash [32]byte) *Transaction {
	var msg bytes.Buffer
	// один подписант, ни одного readonly подписанта, System Program readonly
	msg.Write([]byte{1, 0, 1})
	writeShortVec(&msg, 3)
	msg.Write(from[:])
	msg.Write(to[:])
	msg.Write(SystemProgramID[:])
	msg.Write(blockhash[:])

	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], 2) // Transfer
	binary.LittleEndian.PutUint64(data[4:12], lamports)

	writeShortVec(&msg, 1)
	msg.WriteByte(2)
	writeShortVec(&msg, 2)
	msg.Write([]byte{0, 1})
	writeShortVec(&msg, len(data))
	msg.Write(data)

	return &Transaction{
		Signatures:      make([][SignatureSize]byte, 1),
		Message:         msg.Bytes(),
		Header:          Header{1, 0, 1},
		AccountKeys:     []PublicKey{from, to, SystemProgramID},
		RecentBlockhash: blockhash,
	}
}

func readShortVec(r *bytes.Reader) (int, error) {
	var v int
	for i := 0; i < 3; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, errShort
		}
		v |= int(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			return v, nil
		}
	}
	return 0, errors.New("некорректная длина shortvec")
}

func writeShortVec(buf *bytes.Buffer, n int) {
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n == 0 {
			buf.WriteByte(b)
			return
		}
		buf.WriteByte(b | 0x80)
	}
}

func readFull(r *bytes.Reader, dst []byte) (int, error) {
	if r.Len() < len(dst) {
		return 0, errShort
	}
	return r.Read(dst)
}
