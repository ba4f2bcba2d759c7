package games

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
)

// Seeds key the outcome stream of one game instance.
type Seeds struct {
	Server string `json:"server"`
	Client string `json:"client"`
}

// RandomSeeds returns fresh, unpredictable seeds.
func RandomSeeds() Seeds {
	return Seeds{Server: uuid.NewString(), Client: uuid.NewString()}
}

// RNG hands out reproducible floats in [0, 1): every draw consumes one nonce,
// and the same seeds and nonce always yield the same floats.
type RNG struct {
	mu    sync.Mutex
	seeds Seeds
	nonce uint64
}

func NewRNG(seeds Seeds) *RNG {
	return &RNG{seeds: seeds}
}

// Draw returns count floats for the next nonce and that nonce.
func (r *RNG) Draw(count int) ([]float64, uint64) {
	r.mu.Lock()
	r.nonce++
	nonce := r.nonce
	r.mu.Unlock()
	return Floats(r.seeds.Server, r.seeds.Client, nonce, 0, count), nonce
}

// Float is Draw(1) without the nonce.
func (r *RNG) Float() float64 {
	f, _ := r.Draw(1)
	return f[0]
}

// Nonce returns the last nonce used.
func (r *RNG) Nonce() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nonce
}

// byteGenerator streams HMAC-SHA256(server, "client:nonce:round") bytes.
// Adapted from the stake-pf-replay engine's byte generator so outcomes
// replay against the same provably fair streams.
type byteGenerator struct {
	serverSeed   string
	clientSeed   string
	nonce        uint64
	currentRound uint64
	currentPos   int
	buffer       [32]byte
}

func newByteGenerator(serverSeed, clientSeed string, nonce, cursor uint64) *byteGenerator {
	bg := &byteGenerator{
		serverSeed:   serverSeed,
		clientSeed:   clientSeed,
		nonce:        nonce,
		currentRound: cursor / 32,
		currentPos:   int(cursor % 32),
	}
	bg.generateRound()
	return bg
}

func (bg *byteGenerator) next() byte {
	if bg.currentPos >= 32 {
		bg.currentRound++
		bg.currentPos = 0
		bg.generateRound()
	}
	b := bg.buffer[bg.currentPos]
	bg.currentPos++
	return b
}

func (bg *byteGenerator) nextFloat() float64 {
	return bytesToFloat([4]byte{bg.next(), bg.next(), bg.next(), bg.next()})
}

func (bg *byteGenerator) generateRound() {
	h := hmac.New(sha256.New, []byte(bg.serverSeed))
	fmt.Fprintf(h, "%s:%d:%d", bg.clientSeed, bg.nonce, bg.currentRound)
	copy(bg.buffer[:], h.Sum(nil))
}

func bytesToFloat(bytes [4]byte) float64 {
	result := 0.0
	for i, b := range bytes {
		result += float64(b) / math.Pow(256, float64(i+1))
	}
	return result
}

// Floats generates count floats starting at cursor.
func Floats(serverSeed, clientSeed string, nonce, cursor uint64, count int) []float64 {
	bg := newByteGenerator(serverSeed, clientSeed, nonce, cursor)
	out := make([]float64, count)
	for i := range out {
		out[i] = bg.nextFloat()
	}
	return out
}
