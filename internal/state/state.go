package state

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/ayush99336/confidential-games/internal/handle"
)

type State struct {
	Height int64 `json:"height"`

	Accounts    map[string]uint64 `json:"accounts"`
	AccountKeys map[string][]byte `json:"accountKeys,omitempty"` // identity -> ed25519 pubkey (32 bytes)

	Raffles    map[string]*Raffle     `json:"raffles"`
	Tickets    map[string]*Ticket     `json:"tickets"`
	Tables     map[string]*Table      `json:"tables"`
	Seats      map[string]*PlayerSeat `json:"seats"`
	Games      map[string]*Game       `json:"games"`
	Allowances map[string]*Allowance  `json:"allowances"`
}

func NewState() *State {
	return &State{
		Height:      0,
		Accounts:    map[string]uint64{},
		AccountKeys: map[string][]byte{},
		Raffles:     map[string]*Raffle{},
		Tickets:     map[string]*Ticket{},
		Tables:      map[string]*Table{},
		Seats:       map[string]*PlayerSeat{},
		Games:       map[string]*Game{},
		Allowances:  map[string]*Allowance{},
	}
}

func Load(home string) (*State, error) {
	path := filepath.Join(home, "state.json")
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewState(), nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	st.initMaps()
	return &st, nil
}

func (s *State) initMaps() {
	if s.Accounts == nil {
		s.Accounts = map[string]uint64{}
	}
	if s.AccountKeys == nil {
		s.AccountKeys = map[string][]byte{}
	}
	if s.Raffles == nil {
		s.Raffles = map[string]*Raffle{}
	}
	if s.Tickets == nil {
		s.Tickets = map[string]*Ticket{}
	}
	if s.Tables == nil {
		s.Tables = map[string]*Table{}
	}
	if s.Seats == nil {
		s.Seats = map[string]*PlayerSeat{}
	}
	if s.Games == nil {
		s.Games = map[string]*Game{}
	}
	if s.Allowances == nil {
		s.Allowances = map[string]*Allowance{}
	}
}

func (s *State) Save(home string) error {
	if err := os.MkdirAll(home, 0o755); err != nil {
		return fmt.Errorf("mkdir home: %w", err)
	}
	path := filepath.Join(home, "state.json")
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// Clone returns a deep copy of state suitable for staged tx execution.
// Every instruction runs against a clone; the clone replaces live state
// only when the instruction succeeds, which is what makes handle writes,
// stage transitions and balance transfers atomic.
func (s *State) Clone() (*State, error) {
	if s == nil {
		return nil, fmt.Errorf("state is nil")
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode state clone: %w", err)
	}
	var out State
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode state clone: %w", err)
	}
	out.initMaps()
	return &out, nil
}

func (s *State) AppHash() []byte {
	// Deterministic JSON hash: encoding/json does NOT guarantee map key
	// order, so maps are normalized into sorted slices first.
	type kv[T any] struct {
		Addr  string `json:"addr"`
		Value T      `json:"value"`
	}

	accounts := make([]kv[uint64], 0, len(s.Accounts))
	for _, k := range sortedKeys(s.Accounts) {
		accounts = append(accounts, kv[uint64]{Addr: k, Value: s.Accounts[k]})
	}
	accountKeys := make([]kv[[]byte], 0, len(s.AccountKeys))
	for _, k := range sortedKeys(s.AccountKeys) {
		accountKeys = append(accountKeys, kv[[]byte]{Addr: k, Value: s.AccountKeys[k]})
	}
	raffles := make([]kv[*Raffle], 0, len(s.Raffles))
	for _, k := range sortedKeys(s.Raffles) {
		raffles = append(raffles, kv[*Raffle]{Addr: k, Value: s.Raffles[k]})
	}
	tickets := make([]kv[*Ticket], 0, len(s.Tickets))
	for _, k := range sortedKeys(s.Tickets) {
		tickets = append(tickets, kv[*Ticket]{Addr: k, Value: s.Tickets[k]})
	}
	tables := make([]kv[*Table], 0, len(s.Tables))
	for _, k := range sortedKeys(s.Tables) {
		tables = append(tables, kv[*Table]{Addr: k, Value: s.Tables[k]})
	}
	seats := make([]kv[*PlayerSeat], 0, len(s.Seats))
	for _, k := range sortedKeys(s.Seats) {
		seats = append(seats, kv[*PlayerSeat]{Addr: k, Value: s.Seats[k]})
	}
	games := make([]kv[*Game], 0, len(s.Games))
	for _, k := range sortedKeys(s.Games) {
		games = append(games, kv[*Game]{Addr: k, Value: s.Games[k]})
	}
	allowances := make([]kv[*Allowance], 0, len(s.Allowances))
	for _, k := range sortedKeys(s.Allowances) {
		allowances = append(allowances, kv[*Allowance]{Addr: k, Value: s.Allowances[k]})
	}

	normalized := struct {
		Height      int64             `json:"height"`
		Accounts    []kv[uint64]      `json:"accounts"`
		AccountKeys []kv[[]byte]      `json:"accountKeys"`
		Raffles     []kv[*Raffle]     `json:"raffles"`
		Tickets     []kv[*Ticket]     `json:"tickets"`
		Tables      []kv[*Table]      `json:"tables"`
		Seats       []kv[*PlayerSeat] `json:"seats"`
		Games       []kv[*Game]       `json:"games"`
		Allowances  []kv[*Allowance]  `json:"allowances"`
	}{
		Height:      s.Height,
		Accounts:    accounts,
		AccountKeys: accountKeys,
		Raffles:     raffles,
		Tickets:     tickets,
		Tables:      tables,
		Seats:       seats,
		Games:       games,
		Allowances:  allowances,
	}

	b, _ := json.Marshal(normalized)
	sum := sha256.Sum256(b)
	return sum[:]
}

func sortedKeys[T any](m map[string]T) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ---- Bank ----

func (s *State) Balance(addr string) uint64 {
	return s.Accounts[addr]
}

func (s *State) Credit(addr string, amount uint64) error {
	bal := s.Accounts[addr]
	if bal > ^uint64(0)-amount {
		return fmt.Errorf("balance overflow: have=%d add=%d", bal, amount)
	}
	s.Accounts[addr] = bal + amount
	return nil
}

func (s *State) Debit(addr string, amount uint64) error {
	bal := s.Accounts[addr]
	if bal < amount {
		return fmt.Errorf("insufficient funds: have=%d need=%d", bal, amount)
	}
	s.Accounts[addr] = bal - amount
	return nil
}

// ---- Allowances ----

type Allowance struct {
	Handle        handle.Handle `json:"handle"`
	Grantee       string        `json:"grantee"`
	CreatedHeight int64         `json:"createdHeight"`
}

// GrantAllowance creates the permission record for (h, grantee) at its
// derived address. Idempotent: re-granting an existing pair is a no-op.
func (s *State) GrantAllowance(h handle.Handle, grantee string, height int64) (string, error) {
	if h.IsZero() {
		return "", fmt.Errorf("cannot grant allowance on zero handle")
	}
	if grantee == "" {
		return "", fmt.Errorf("missing grantee")
	}
	addr := AllowanceAddress(h, grantee)
	if _, ok := s.Allowances[addr]; ok {
		return addr, nil
	}
	s.Allowances[addr] = &Allowance{
		Handle:        h,
		Grantee:       grantee,
		CreatedHeight: height,
	}
	return addr, nil
}

func (s *State) HasAllowance(h handle.Handle, grantee string) bool {
	_, ok := s.Allowances[AllowanceAddress(h, grantee)]
	return ok
}

// ---- Raffle ----

type Raffle struct {
	Authority           string        `json:"authority"`
	RaffleID            uint64        `json:"raffleId"`
	TicketPrice         uint64        `json:"ticketPrice"`
	ParticipantCount    uint32        `json:"participantCount"`
	IsOpen              bool          `json:"isOpen"`
	PrizeClaimed        bool          `json:"prizeClaimed"`
	WinningNumberHandle handle.Handle `json:"winningNumberHandle"`
	CreatedHeight       int64         `json:"createdHeight"`
}

type Ticket struct {
	Raffle         string        `json:"raffle"`
	Owner          string        `json:"owner"`
	GuessHandle    handle.Handle `json:"guessHandle"`
	IsWinnerHandle handle.Handle `json:"isWinnerHandle"`
	Claimed        bool          `json:"claimed"`
}

// ---- Poker ----

type GameStage string

const (
	StageWaitingForPlayers GameStage = "waitingForPlayers"
	StageDealing           GameStage = "dealing"
	StagePreFlop           GameStage = "preFlop"
	StageFlop              GameStage = "flop"
	StageTurn              GameStage = "turn"
	StageRiver             GameStage = "river"
	StageShowdown          GameStage = "showdown"
	StageSettled           GameStage = "settled"
)

// NextStage returns the successor in the linear stage machine, or "" when
// the stage is terminal or unknown. Transitions are one-directional.
func (g GameStage) NextStage() GameStage {
	switch g {
	case StageWaitingForPlayers:
		return StageDealing
	case StageDealing:
		return StagePreFlop
	case StagePreFlop:
		return StageFlop
	case StageFlop:
		return StageTurn
	case StageTurn:
		return StageRiver
	case StageRiver:
		return StageShowdown
	case StageShowdown:
		return StageSettled
	default:
		return ""
	}
}

// RoundID maps betting stages onto the round ids used in round summaries.
func (g GameStage) RoundID() (uint8, bool) {
	switch g {
	case StagePreFlop:
		return 1, true
	case StageFlop:
		return 2, true
	case StageTurn:
		return 3, true
	case StageRiver:
		return 4, true
	default:
		return 0, false
	}
}

const (
	MaxPlayers         = 5
	MinPlayers         = 2
	HoleCardsPerPlayer = 2
	CommunityCardCount = 5
	TotalCardsNeeded   = 15
	CardBatches        = 8
	CardModulus        = 52
)

type Table struct {
	Authority   string `json:"authority"`
	TableID     uint64 `json:"tableId"`
	MaxPlayers  uint8  `json:"maxPlayers"`
	BuyInMin    uint64 `json:"buyInMin"`
	BuyInMax    uint64 `json:"buyInMax"`
	SmallBlind  uint64 `json:"smallBlind"`
	CurrentGame string `json:"currentGame,omitempty"`
	PlayerCount uint8  `json:"playerCount"`
}

type PlayerSeat struct {
	Table     string `json:"table"`
	Game      string `json:"game,omitempty"`
	Player    string `json:"player"`
	SeatIndex uint8  `json:"seatIndex"`
	Chips     uint64 `json:"chips"`

	HoleCard1 handle.Handle `json:"holeCard1"`
	HoleCard2 handle.Handle `json:"holeCard2"`

	CurrentBet uint64 `json:"currentBet"`
	TotalBet   uint64 `json:"totalBet"`
	Folded     bool   `json:"folded"`
	AllIn      bool   `json:"allIn"`
	Acted      bool   `json:"acted"`
}

// RoundSummary is a batch-applied snapshot of one betting round, computed
// by the off-ledger sequencer and committed atomically.
type RoundSummary struct {
	RoundID    uint8              `json:"roundId"`
	BetsBySeat [MaxPlayers]uint64 `json:"betsBySeat"`
	FoldedMask uint8              `json:"foldedMask"`
	AllInMask  uint8              `json:"allInMask"`
	PotDelta   uint64             `json:"potDelta"`
	CurrentBet uint64             `json:"currentBet"`
	LastRaiser uint8              `json:"lastRaiser"`
	ActedMask  uint8              `json:"actedMask"`
	ActionOn   uint8              `json:"actionOn"`
}

type Game struct {
	Table  string    `json:"table"`
	GameID uint64    `json:"gameId"`
	Stage  GameStage `json:"stage"`

	RoundID          uint8              `json:"roundId"`
	Pot              uint64             `json:"pot"`
	CurrentBet       uint64             `json:"currentBet"`
	DealerPosition   uint8              `json:"dealerPosition"`
	ActionOn         uint8              `json:"actionOn"`
	PlayersRemaining uint8              `json:"playersRemaining"`
	PlayersActed     uint8              `json:"playersActed"`
	PlayerCount      uint8              `json:"playerCount"`
	FoldedMask       uint8              `json:"foldedMask"`
	AllInMask        uint8              `json:"allInMask"`
	BlindsPosted     uint8              `json:"blindsPosted"`
	LastRaiser       uint8              `json:"lastRaiser"`
	LastRaiseAmount  uint64             `json:"lastRaiseAmount"`
	RoundBets        [MaxPlayers]uint64 `json:"roundBets"`
	ActedMask        uint8              `json:"actedMask"`

	ShuffleRandom   handle.Handle                     `json:"shuffleRandom"`
	CardOffset      handle.Handle                     `json:"cardOffset"`
	ShuffledIndices [MaxPlayers]uint8                 `json:"shuffledIndices"`
	DealCards       [2 * MaxPlayers]handle.Handle     `json:"dealCards"`
	CommunityCards  [CommunityCardCount]handle.Handle `json:"communityCards"`

	BatchesProcessed  uint8  `json:"batchesProcessed"`
	CardsProcessed    bool   `json:"cardsProcessed"`
	Frontend          string `json:"frontend"`
	CommunityRevealed uint8  `json:"communityRevealed"`

	WinnerSeat int8 `json:"winnerSeat"` // -1 until settlement
}

func (g *Game) IsFolded(seat uint8) bool {
	return (g.FoldedMask>>seat)&1 == 1
}

func (g *Game) IsAllIn(seat uint8) bool {
	return (g.AllInMask>>seat)&1 == 1
}

func (g *Game) IsActive(seat uint8) bool {
	return !g.IsFolded(seat) && !g.IsAllIn(seat)
}

// PairIndexForSeat inverts shuffled_indices. Pair slots are positions in
// deal order, seat indices are player identity slots; the permutation is
// the only authoritative mapping between the two namespaces.
func (g *Game) PairIndexForSeat(seat uint8) (int, bool) {
	for pair, assigned := range g.ShuffledIndices {
		if assigned == seat {
			return pair, true
		}
	}
	return 0, false
}

// ShuffleIndices derives the pair-slot -> seat permutation from the random
// seed handle's bits. The handle value is public ledger state; the
// plaintext behind it is not.
func ShuffleIndices(seed handle.Handle) [MaxPlayers]uint8 {
	indices := [MaxPlayers]uint8{0, 1, 2, 3, 4}
	for i := MaxPlayers - 1; i > 0; i-- {
		j := int(seed[i%len(seed)]) % (i + 1)
		indices[i], indices[j] = indices[j], indices[i]
	}
	return indices
}

// SeatsOfTable returns the table's seats ordered by seat index.
func (s *State) SeatsOfTable(tableAddr string) []*PlayerSeat {
	out := make([]*PlayerSeat, 0, MaxPlayers)
	for _, seat := range s.Seats {
		if seat.Table == tableAddr {
			out = append(out, seat)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeatIndex < out[j].SeatIndex })
	return out
}

// NextSeatIndex picks the smallest unused seat index at the table. Indices
// are stable for the lifetime of a seat and never reshuffled mid-hand.
func (s *State) NextSeatIndex(tableAddr string) (uint8, error) {
	used := map[uint8]bool{}
	for _, seat := range s.Seats {
		if seat.Table == tableAddr {
			used[seat.SeatIndex] = true
		}
	}
	for i := uint8(0); i < MaxPlayers; i++ {
		if !used[i] {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no free seat")
}
