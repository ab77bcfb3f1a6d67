// Package naming generates bucket names and object keys and validates bucket
// names against the DNS-compatible rules object storage providers enforce.
package naming

import (
	"net"
	"strings"

	"github.com/google/uuid"

	s3err "github.com/bleepstore/bucketwalk/internal/errors"
)

const (
	// MinBucketNameLen and MaxBucketNameLen bound a bucket name's length.
	MinBucketNameLen = 3
	MaxBucketNameLen = 63

	// uuidLen is the length of a uuid in its canonical hyphenated form.
	uuidLen = 36

	// MaxPrefixLen is the longest prefix BucketName can extend without
	// exceeding MaxBucketNameLen.
	MaxPrefixLen = MaxBucketNameLen - uuidLen

	// keyPrefixLen is the number of random hex characters prepended to an
	// object key.
	keyPrefixLen = 6
)

// BucketName returns prefix followed by a random uuid. Each call returns a
// different name.
func BucketName(prefix string) string {
	return prefix + uuid.NewString()
}

// ObjectKey returns filename prefixed with six random hex characters so that
// keys written together do not share a leading prefix.
func ObjectKey(filename string) string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:keyPrefixLen] + filename
}

// ValidatePrefix reports whether BucketName(prefix) yields a valid bucket
// name.
func ValidatePrefix(prefix string) error {
	if len(prefix) > MaxPrefixLen {
		return s3err.ErrInvalidBucketName.WithMessage("bucket prefix %q is longer than %d characters", prefix, MaxPrefixLen)
	}
	if prefix == "" {
		return nil
	}
	return ValidateBucketName(prefix + strings.Repeat("0", uuidLen))
}

// ValidateBucketName checks name against the common S3 bucket naming rules:
// 3-63 characters of lowercase letters, digits, dots and hyphens, beginning
// and ending with a letter or digit, without consecutive dots and not
// formatted as an IPv4 address.
func ValidateBucketName(name string) error {
	if len(name) < MinBucketNameLen || len(name) > MaxBucketNameLen {
		return s3err.ErrInvalidBucketName.WithMessage("bucket name %q must be between %d and %d characters long", name, MinBucketNameLen, MaxBucketNameLen)
	}

	for i := 0; i < len(name); i++ {
		c := name[i]
		if !isLowerAlnum(c) && c != '-' && c != '.' {
			return s3err.ErrInvalidBucketName.WithMessage("bucket name %q can only contain lowercase letters, numbers, dots, and hyphens", name)
		}
	}

	if !isLowerAlnum(name[0]) || !isLowerAlnum(name[len(name)-1]) {
		return s3err.ErrInvalidBucketName.WithMessage("bucket name %q must begin and end with a letter or number", name)
	}

	if strings.Contains(name, "..") {
		return s3err.ErrInvalidBucketName.WithMessage("bucket name %q cannot contain consecutive dots", name)
	}

	if ip := net.ParseIP(name); ip != nil && ip.To4() != nil {
		return s3err.ErrInvalidBucketName.WithMessage("bucket name %q cannot be formatted as an IP address", name)
	}

	return nil
}

func isLowerAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}
