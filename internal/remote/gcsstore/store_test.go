package gcsstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublicURL(t *testing.T) {
	assert.Equal(t,
		"https://storage.googleapis.com/scan-images/u1/front_1.jpg",
		PublicURL("scan-images", "u1/front_1.jpg"))
}

func TestBucketName(t *testing.T) {
	s := &Store{}
	assert.Equal(t, "scan-images", s.bucketName("scan-images"))

	s = &Store{bucket: "glowscan-prod-scans"}
	assert.Equal(t, "glowscan-prod-scans", s.bucketName("scan-images"))
}
