/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2017 Markus Stenberg
 *
 * Created:       Sun Dec 24 16:42:12 2017 mstenber
 * Last modified: Thu Feb 14 09:12:40 2019 mstenber
 * Edit time:     96 min
 *
 */

// codec library is responsible for transforming sector payloads +
// additionalData (the sector number) to what is actually stored by
// the key-value sector devices. In practise this means compressing
// and, for encrypted swap, encrypting + authenticating.
//
// CodecChain makes it possible to combine multiple Codecs that do the
// particular sub-EncodeBytes/DecodeBytes steps.
package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"log"

	"github.com/golang/snappy"
	"github.com/minio/sha256-simd"
	"github.com/pkg/errors"
	ucodec "github.com/ugorji/go/codec"
	"golang.org/x/crypto/pbkdf2"
)

// Codec
//
// Single transformation of byte slices.
type Codec interface {
	DecodeBytes(data, additionalData []byte) (ret []byte, err error)
	EncodeBytes(data, additionalData []byte) (ret []byte, err error)
}

type CompressionType byte

// Zero is not valid, so an envelope without the type is rejected.
const (
	CompressionTypePlain CompressionType = iota + 1
	CompressionTypeSnappy
)

// EncryptedData is the CBOR envelope of EncryptingCodec output.
type EncryptedData struct {
	Nonce         []byte `codec:"n"`
	EncryptedData []byte `codec:"e"`
}

// CompressedData is the CBOR envelope of CompressingCodec output.
type CompressedData struct {
	CompressionType CompressionType `codec:"t"`
	RawData         []byte          `codec:"r"`
}

var cborHandle ucodec.CborHandle

func marshal(v interface{}) (ret []byte, err error) {
	err = ucodec.NewEncoderBytes(&ret, &cborHandle).Encode(v)
	return
}

func unmarshal(data []byte, v interface{}) error {
	return ucodec.NewDecoderBytes(data, &cborHandle).Decode(v)
}

// EncryptingCodec
//
// AES GCM based encrypting/decrypting (+authenticating) Codec.
type EncryptingCodec struct {
	gcm cipher.AEAD
	// Main key
	mk []byte
}

func (self EncryptingCodec) Init(password, salt []byte, iter int) *EncryptingCodec {
	self.mk = pbkdf2.Key(password, salt, iter, 32, sha256.New)
	block, err := aes.NewCipher(self.mk)
	if err != nil {
		log.Panic(err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		log.Panic(err)
	}
	self.gcm = gcm
	return &self
}

func (self *EncryptingCodec) DecodeBytes(data, additionalData []byte) (ret []byte, err error) {
	var ed EncryptedData
	if err = unmarshal(data, &ed); err != nil {
		return nil, errors.Wrap(err, "encrypted envelope")
	}
	if len(ed.Nonce) != self.gcm.NonceSize() {
		return nil, errors.Errorf("invalid nonce length %d", len(ed.Nonce))
	}
	ret, err = self.gcm.Open(nil, ed.Nonce, ed.EncryptedData, additionalData)
	return
}

func (self *EncryptingCodec) EncodeBytes(data, additionalData []byte) (ret []byte, err error) {
	nonce := make([]byte, self.gcm.NonceSize())
	if _, err = rand.Read(nonce); err != nil {
		return
	}
	ciphertext := self.gcm.Seal(nil, nonce, data, additionalData)
	return marshal(&EncryptedData{Nonce: nonce, EncryptedData: ciphertext})
}

// CompressingCodec
//
// On-the-fly compressing Codec. If the result does not improve, the
// result is marked to be plaintext and passed as-is.
type CompressingCodec struct {
}

func (self *CompressingCodec) DecodeBytes(data, additionalData []byte) (ret []byte, err error) {
	var cd CompressedData
	if err = unmarshal(data, &cd); err != nil {
		return nil, errors.Wrap(err, "compressed envelope")
	}
	switch cd.CompressionType {
	case CompressionTypePlain:
		ret = cd.RawData
	case CompressionTypeSnappy:
		ret, err = snappy.Decode(nil, cd.RawData)
	default:
		err = errors.Errorf("unknown compression type %d", cd.CompressionType)
	}
	return
}

func (self *CompressingCodec) EncodeBytes(data, additionalData []byte) (ret []byte, err error) {
	cd := CompressedData{CompressionType: CompressionTypeSnappy,
		RawData: snappy.Encode(nil, data)}
	if len(cd.RawData) >= len(data) {
		cd.CompressionType = CompressionTypePlain
		cd.RawData = data
	}
	return marshal(&cd)
}

type CodecChain struct {
	codecs, reverseCodecs []Codec
}

// Init method initializes the codec chain.
//
// codecs are given in decryption order, so e.g.
// encrypting one should be given before compressing one.
func (self CodecChain) Init(codecs ...Codec) *CodecChain {
	self.codecs = codecs
	// Reverse the codec slice for encryption purposes
	rc := make([]Codec, len(codecs))
	for i, c := range codecs {
		rc[len(codecs)-i-1] = c
	}
	self.reverseCodecs = rc
	return &self
}

func (self *CodecChain) DecodeBytes(data, additionalData []byte) (ret []byte, err error) {
	ret = data
	for _, c := range self.codecs {
		ret, err = c.DecodeBytes(ret, additionalData)
		if err != nil {
			return
		}
	}
	return
}

func (self *CodecChain) EncodeBytes(data, additionalData []byte) (ret []byte, err error) {
	ret = data
	for _, c := range self.reverseCodecs {
		ret, err = c.EncodeBytes(ret, additionalData)
		if err != nil {
			return
		}
	}
	return
}
