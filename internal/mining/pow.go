package mining

import (
	"encoding/binary"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/soloforge/soloforge/pkg/errors"
)

// HeaderSize is the serialized header length:
// version(4) + prevhash(32) + merkleroot(32) + timestamp(8) + bits(4) + nonce(8).
const HeaderSize = 88

// nonceOffset is where the 8-byte nonce sits in a serialized header.
const nonceOffset = HeaderSize - 8

// oneLsh256 is 1<<256, used to detect targets that overflow a digest.
var oneLsh256 = new(big.Int).Lsh(big.NewInt(1), 256)

// HeaderBytes serializes the template's header skeleton with a zero nonce.
// Workers patch the nonce in place per iteration instead of re-encoding.
func (t *BlockTemplate) HeaderBytes() ([]byte, error) {
	if t.Target == nil || t.Target.Sign() <= 0 || t.Target.Cmp(oneLsh256) >= 0 {
		return nil, errors.New(errors.ErrorTypeHashCompute, "header_encode",
			"template carries an unusable difficulty target").
			WithContext("bits", t.Bits)
	}

	hdr := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(t.Version))
	copy(hdr[4:36], t.PrevHash[:])
	copy(hdr[36:68], t.MerkleRoot[:])
	binary.LittleEndian.PutUint64(hdr[68:76], uint64(t.Timestamp))
	binary.LittleEndian.PutUint32(hdr[76:80], t.Bits)
	// nonce bytes stay zero
	return hdr, nil
}

// PutNonce patches a nonce into a serialized header.
func PutNonce(hdr []byte, nonce uint64) {
	binary.LittleEndian.PutUint64(hdr[nonceOffset:], nonce)
}

// PowDigest computes the proof-of-work digest of a serialized header.
func PowDigest(hdr []byte) (chainhash.Hash, error) {
	if len(hdr) != HeaderSize {
		return chainhash.Hash{}, errors.New(errors.ErrorTypeHashCompute, "pow_digest",
			"malformed header").
			WithContext("length", len(hdr))
	}
	return chainhash.DoubleHashH(hdr), nil
}

// HashToBig converts a digest into the numeric value compared against the
// difficulty target. The digest is in little-endian, so the bytes are
// reversed before treating them as a big-endian integer.
func HashToBig(hash *chainhash.Hash) *big.Int {
	buf := *hash
	blen := len(buf)
	for i := 0; i < blen/2; i++ {
		buf[i], buf[blen-1-i] = buf[blen-1-i], buf[i]
	}
	return new(big.Int).SetBytes(buf[:])
}

// CompactToBig expands the compact difficulty representation used in block
// headers into a big.Int target. The compact form packs sign, exponent and a
// 23-bit mantissa into 32 bits.
func CompactToBig(compact uint32) *big.Int {
	mantissa := compact & 0x007fffff
	isNegative := compact&0x00800000 != 0
	exponent := uint(compact >> 24)

	var bn *big.Int
	if exponent <= 3 {
		mantissa >>= 8 * (3 - exponent)
		bn = big.NewInt(int64(mantissa))
	} else {
		bn = big.NewInt(int64(mantissa))
		bn.Lsh(bn, 8*(exponent-3))
	}

	if isNegative {
		bn = bn.Neg(bn)
	}

	return bn
}

// BigToCompact packs a big.Int target back into compact representation.
func BigToCompact(n *big.Int) uint32 {
	if n.Sign() == 0 {
		return 0
	}

	var mantissa uint32
	exponent := uint(len(n.Bytes()))
	if exponent <= 3 {
		mantissa = uint32(n.Bits()[0])
		mantissa <<= 8 * (3 - exponent)
	} else {
		tn := new(big.Int).Set(n)
		mantissa = uint32(tn.Rsh(tn, 8*(exponent-3)).Bits()[0])
	}

	// Normalize mantissas with the sign bit set.
	if mantissa&0x00800000 != 0 {
		mantissa >>= 8
		exponent++
	}

	compact := uint32(exponent<<24) | mantissa
	if n.Sign() < 0 {
		compact |= 0x00800000
	}
	return compact
}

// CheckProofOfWork reports whether a serialized header satisfies the target.
func CheckProofOfWork(hdr []byte, target *big.Int) (chainhash.Hash, bool, error) {
	digest, err := PowDigest(hdr)
	if err != nil {
		return chainhash.Hash{}, false, err
	}
	return digest, HashToBig(&digest).Cmp(target) <= 0, nil
}
