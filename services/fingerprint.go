package services

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/alphabatem/common/context"
	"github.com/cratehub/cratehub_api/dto"
)

// FingerprintService derives a stable identity hash from request headers for
// anonymous clients. It holds no state; it lives in the container so the
// gates resolve it the same way as every other dependency.
type FingerprintService struct {
	context.DefaultService
}

const FINGERPRINT_SVC = "fingerprint_svc"

func (svc FingerprintService) Id() string {
	return FINGERPRINT_SVC
}

func (svc *FingerprintService) Start() error {
	return nil
}

// Generate hashes the canonical header triple. Absent headers are treated as
// empty strings; the same triple always yields the same hash.
func (svc *FingerprintService) Generate(userAgent, acceptLanguage, acceptEncoding string) dto.Fingerprint {
	canonical := strings.TrimSpace(userAgent) + "|" +
		strings.TrimSpace(acceptLanguage) + "|" +
		strings.TrimSpace(acceptEncoding)

	sum := sha256.Sum256([]byte(canonical))

	return dto.Fingerprint{
		Hash: hex.EncodeToString(sum[:]),
		Components: map[string]string{
			"user_agent":      userAgent,
			"accept_language": acceptLanguage,
			"accept_encoding": acceptEncoding,
		},
	}
}

func (svc *FingerprintService) FromRequest(c *fiber.Ctx) dto.Fingerprint {
	return svc.Generate(
		c.Get(fiber.HeaderUserAgent),
		c.Get(fiber.HeaderAcceptLanguage),
		c.Get(fiber.HeaderAcceptEncoding),
	)
}

// ClientIP extracts the client address: X-Forwarded-For first entry, then
// X-Real-IP, then the socket address.
func ClientIP(c *fiber.Ctx) string {
	forwarded := c.Get("X-Forwarded-For")
	if forwarded != "" {
		ips := strings.Split(forwarded, ",")
		if len(ips) > 0 {
			ip := strings.TrimSpace(ips[0])
			if ip != "" {
				return ip
			}
		}
	}

	realIP := c.Get("X-Real-IP")
	if realIP != "" {
		return realIP
	}

	ip, _, err := net.SplitHostPort(c.Context().RemoteAddr().String())
	if err != nil {
		return c.Context().RemoteAddr().String()
	}

	return ip
}

// IPSubnet reduces an address for abuse analytics: IPv4 keeps the first three
// octets, IPv6 the first four groups. Unparseable input maps to "unknown".
func IPSubnet(ip string) string {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return "unknown"
	}

	if v4 := parsed.To4(); v4 != nil {
		octets := strings.Split(v4.String(), ".")
		if len(octets) != 4 {
			return "unknown"
		}
		return strings.Join(octets[:3], ".") + ".0"
	}

	// Expand through the 16-byte form so compressed notation ("2001:db8::1")
	// truncates the same as the full form.
	b := parsed.To16()
	groups := make([]string, 4)
	for i := range groups {
		groups[i] = fmt.Sprintf("%02x%02x", b[2*i], b[2*i+1])
	}
	return strings.Join(groups, ":") + "::"
}
