package identity

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// 外部エンティティの種別（名前空間の後半部分）
const (
	KindUser    = "user"
	KindRoom    = "room"
	KindMessage = "message"
)

var (
	// ErrEmptyNamespace は名前空間が空の場合のエラー
	ErrEmptyNamespace = errors.New("correlation namespace is empty")
	// ErrEmptyPart は必須パーツが空の場合のエラー
	ErrEmptyPart = errors.New("correlation part is empty")
)

// rootNamespace は全ての名前空間UUIDの親。変更すると既存IDが全て変わる。
var rootNamespace = uuid.MustParse("3b0f6c1e-9a57-4d0e-8f3a-5c2e7d41a9b6")

// CorrelationID は外部エンティティから導出される決定的な識別子を表す値オブジェクト
type CorrelationID struct {
	value uuid.UUID
}

// Correlate は名前空間とパーツからCorrelationIDを導出する
//
// 名前空間は専用のUUIDv5名前空間に変換され、パーツは長さ付きでエンコードされる。
// そのため ("12","3") と ("1","23") は衝突せず、同じ数値でも user と room は別IDになる。
func Correlate(namespace string, parts ...string) (CorrelationID, error) {
	if strings.TrimSpace(namespace) == "" {
		return CorrelationID{}, ErrEmptyNamespace
	}
	if len(parts) == 0 {
		return CorrelationID{}, fmt.Errorf("namespace %q: %w", namespace, ErrEmptyPart)
	}

	var b strings.Builder
	for i, part := range parts {
		if part == "" {
			return CorrelationID{}, fmt.Errorf("namespace %q part %d: %w", namespace, i, ErrEmptyPart)
		}
		b.WriteString(strconv.Itoa(len(part)))
		b.WriteByte(':')
		b.WriteString(part)
	}

	ns := uuid.NewSHA1(rootNamespace, []byte(namespace))
	return CorrelationID{value: uuid.NewSHA1(ns, []byte(b.String()))}, nil
}

// MustCorrelate はCorrelateのパニック版（検証済みの入力専用）
func MustCorrelate(namespace string, parts ...string) CorrelationID {
	id, err := Correlate(namespace, parts...)
	if err != nil {
		panic(err)
	}
	return id
}

// Namespace はプラットフォームと種別から名前空間文字列を組み立てる（例: "tg-user"）
func Namespace(platform, kind string) string {
	return platform + "-" + kind
}

// Parse は文字列表現からCorrelationIDを復元
func Parse(s string) (CorrelationID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return CorrelationID{}, fmt.Errorf("parse correlation id %q: %w", s, err)
	}
	return CorrelationID{value: u}, nil
}

// String はCorrelationIDの文字列表現を返す
func (c CorrelationID) String() string {
	if c.IsZero() {
		return ""
	}
	return c.value.String()
}

// Equals は2つのCorrelationIDが等しいかを判定
func (c CorrelationID) Equals(other CorrelationID) bool {
	return c.value == other.value
}

// IsZero はCorrelationIDがゼロ値かを判定
func (c CorrelationID) IsZero() bool {
	return c.value == uuid.Nil
}

// UUID は内部のUUIDを返す
func (c CorrelationID) UUID() uuid.UUID {
	return c.value
}
