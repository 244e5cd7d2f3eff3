// Package khqr builds dynamic KHQR (EMVCo merchant-presented) payment
// payloads and renders them as PNG QR codes.
package khqr

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"

	"topup-checkout/internal/domain"
)

// EMVCo tag ids used by the individual KHQR profile.
const (
	tagFormatIndicator   = "00"
	tagInitiationMethod  = "01"
	tagMerchantAccount   = "29"
	tagMerchantCategory  = "52"
	tagCurrency          = "53"
	tagAmount            = "54"
	tagCountry           = "58"
	tagMerchantName      = "59"
	tagMerchantCity      = "60"
	tagAdditionalData    = "62"
	tagTimestamp         = "99"
	tagCRC               = "63"
	subTagAccountID      = "00"
	subTagBillNumber     = "01"
	subTagMobileNumber   = "02"
	subTagStoreLabel     = "03"
	subTagTerminalLabel  = "07"
	subTagCreationMillis = "00"

	initiationStatic  = "11"
	initiationDynamic = "12"
	currencyUSD       = "840"
	countryKH         = "KH"
	defaultMCC        = "5999"

	billNumberLen = 8
	pngSize       = 256
)

const alphanum = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

type Merchant struct {
	BankAccount   string
	Name          string
	City          string
	StoreLabel    string
	PhoneNumber   string
	TerminalLabel string
}

// QR is an issued payment code.
type QR struct {
	Payload     string
	Fingerprint string
	PNG         []byte
}

type Issuer struct {
	merchant Merchant
	now      func() time.Time
}

func NewIssuer(m Merchant) *Issuer {
	return &Issuer{merchant: m, now: time.Now}
}

// Issue builds a dynamic USD payload for amount and renders it. Every
// failure wraps domain.ErrQRGenerationFailed.
func (i *Issuer) Issue(amount decimal.Decimal) (*QR, error) {
	payload, err := i.Payload(amount, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrQRGenerationFailed, err)
	}

	png, err := qrcode.Encode(payload, qrcode.Medium, pngSize)
	if err != nil {
		return nil, fmt.Errorf("%w: encode png: %v", domain.ErrQRGenerationFailed, err)
	}

	return &QR{
		Payload:     payload,
		Fingerprint: Fingerprint(payload),
		PNG:         png,
	}, nil
}

// Payload returns the EMVCo string, CRC included.
func (i *Issuer) Payload(amount decimal.Decimal, dynamic bool) (string, error) {
	if !amount.IsPositive() {
		return "", fmt.Errorf("amount must be positive, got %s", amount)
	}
	if i.merchant.BankAccount == "" || i.merchant.Name == "" {
		return "", fmt.Errorf("merchant account and name are required")
	}

	initiation := initiationStatic
	if dynamic {
		initiation = initiationDynamic
	}

	account, err := tlv(subTagAccountID, i.merchant.BankAccount)
	if err != nil {
		return "", err
	}

	var extra strings.Builder
	for _, f := range []struct{ tag, value string }{
		{subTagBillNumber, billNumber()},
		{subTagMobileNumber, i.merchant.PhoneNumber},
		{subTagStoreLabel, i.merchant.StoreLabel},
		{subTagTerminalLabel, i.merchant.TerminalLabel},
	} {
		if f.value == "" {
			continue
		}
		field, err := tlv(f.tag, f.value)
		if err != nil {
			return "", err
		}
		extra.WriteString(field)
	}

	fields := []struct{ tag, value string }{
		{tagFormatIndicator, "01"},
		{tagInitiationMethod, initiation},
		{tagMerchantAccount, account},
		{tagMerchantCategory, defaultMCC},
		{tagCurrency, currencyUSD},
		{tagAmount, amount.StringFixed(2)},
		{tagCountry, countryKH},
		{tagMerchantName, i.merchant.Name},
		{tagMerchantCity, i.merchant.City},
		{tagAdditionalData, extra.String()},
	}
	if dynamic {
		millis, err := tlv(subTagCreationMillis, strconv.FormatInt(i.now().UnixMilli(), 10))
		if err != nil {
			return "", err
		}
		fields = append(fields, struct{ tag, value string }{tagTimestamp, millis})
	}

	var b strings.Builder
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		field, err := tlv(f.tag, f.value)
		if err != nil {
			return "", err
		}
		b.WriteString(field)
	}

	b.WriteString(tagCRC + "04")
	fmt.Fprintf(&b, "%04X", CRC16([]byte(b.String())))
	return b.String(), nil
}

// Fingerprint is the lowercase MD5 hex digest the payment rail indexes
// transactions by.
func Fingerprint(payload string) string {
	sum := md5.Sum([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// CRC16 is CRC-16/CCITT-FALSE: poly 0x1021, init 0xFFFF, no reflection.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for range 8 {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// Verify reports whether payload ends with a valid CRC field.
func Verify(payload string) bool {
	if len(payload) < 8 || payload[len(payload)-8:len(payload)-4] != tagCRC+"04" {
		return false
	}
	want := fmt.Sprintf("%04X", CRC16([]byte(payload[:len(payload)-4])))
	return payload[len(payload)-4:] == want
}

func tlv(tag, value string) (string, error) {
	if len(value) > 99 {
		return "", fmt.Errorf("tag %s: value longer than 99 bytes", tag)
	}
	return fmt.Sprintf("%s%02d%s", tag, len(value), value), nil
}

func billNumber() string {
	b := make([]byte, billNumberLen)
	for i := range b {
		b[i] = alphanum[rand.IntN(len(alphanum))]
	}
	return string(b)
}
