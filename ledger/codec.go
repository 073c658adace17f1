package ledger

import (
	"bytes"
	"fmt"

	"github.com/spacemeshos/go-scale"
)

// Records are persisted with SCALE. Encoding is written by hand so that hash
// fields keep their MaxHashLen limit on the wire as well.

func (p *Participant) EncodeScale(enc *scale.Encoder) (total int, err error) {
	for _, v := range []uint64{p.Stake, p.ReputationScore, p.TotalContributions} {
		n, err := scale.EncodeCompact64(enc, v)
		if err != nil {
			return total, err
		}
		total += n
	}
	n, err := scale.EncodeBool(enc, p.IsActive)
	if err != nil {
		return total, err
	}
	return total + n, nil
}

func (p *Participant) DecodeScale(dec *scale.Decoder) (total int, err error) {
	for _, field := range []*uint64{&p.Stake, &p.ReputationScore, &p.TotalContributions} {
		v, n, err := scale.DecodeCompact64(dec)
		if err != nil {
			return total, err
		}
		*field = v
		total += n
	}
	active, n, err := scale.DecodeBool(dec)
	if err != nil {
		return total, err
	}
	p.IsActive = active
	return total + n, nil
}

func (u *ModelUpdate) EncodeScale(enc *scale.Encoder) (total int, err error) {
	{
		n, err := scale.EncodeByteSliceWithLimit(enc, []byte(u.UpdateHash), MaxHashLen)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeCompact64(enc, u.SubmittedAtHeight)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeBool(enc, u.Verified)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (u *ModelUpdate) DecodeScale(dec *scale.Decoder) (total int, err error) {
	{
		field, n, err := scale.DecodeByteSliceWithLimit(dec, MaxHashLen)
		if err != nil {
			return total, err
		}
		total += n
		u.UpdateHash = Hash(field)
	}
	{
		field, n, err := scale.DecodeCompact64(dec)
		if err != nil {
			return total, err
		}
		total += n
		u.SubmittedAtHeight = field
	}
	{
		field, n, err := scale.DecodeBool(dec)
		if err != nil {
			return total, err
		}
		total += n
		u.Verified = field
	}
	return total, nil
}

func (g *GlobalModel) EncodeScale(enc *scale.Encoder) (total int, err error) {
	n, err := scale.EncodeByteSliceWithLimit(enc, []byte(g.ModelHash), MaxHashLen)
	if err != nil {
		return total, err
	}
	total += n
	for _, v := range []uint64{g.ParticipantCount, g.TotalStake, g.AggregatedAtHeight} {
		n, err := scale.EncodeCompact64(enc, v)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (g *GlobalModel) DecodeScale(dec *scale.Decoder) (total int, err error) {
	hash, n, err := scale.DecodeByteSliceWithLimit(dec, MaxHashLen)
	if err != nil {
		return total, err
	}
	total += n
	g.ModelHash = Hash(hash)
	for _, field := range []*uint64{&g.ParticipantCount, &g.TotalStake, &g.AggregatedAtHeight} {
		v, n, err := scale.DecodeCompact64(dec)
		if err != nil {
			return total, err
		}
		*field = v
		total += n
	}
	return total, nil
}

func (s *Status) EncodeScale(enc *scale.Encoder) (total int, err error) {
	{
		n, err := scale.EncodeCompact64(enc, s.CurrentRound)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeBool(enc, s.RoundActive)
		if err != nil {
			return total, err
		}
		total += n
	}
	for _, v := range []uint64{s.TotalRegisteredParticipants, s.RoundSubmissionCount, s.Height} {
		n, err := scale.EncodeCompact64(enc, v)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (s *Status) DecodeScale(dec *scale.Decoder) (total int, err error) {
	{
		v, n, err := scale.DecodeCompact64(dec)
		if err != nil {
			return total, err
		}
		total += n
		s.CurrentRound = v
	}
	{
		v, n, err := scale.DecodeBool(dec)
		if err != nil {
			return total, err
		}
		total += n
		s.RoundActive = v
	}
	for _, field := range []*uint64{&s.TotalRegisteredParticipants, &s.RoundSubmissionCount, &s.Height} {
		v, n, err := scale.DecodeCompact64(dec)
		if err != nil {
			return total, err
		}
		*field = v
		total += n
	}
	return total, nil
}

func encodeRecord(v scale.Encodable) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := v.EncodeScale(scale.NewEncoder(&buf)); err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeRecord(data []byte, v scale.Decodable) error {
	if _, err := v.DecodeScale(scale.NewDecoder(bytes.NewReader(data))); err != nil {
		return fmt.Errorf("decoding record: %w", err)
	}
	return nil
}

func encodeAmount(amount uint64) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := scale.EncodeCompact64(scale.NewEncoder(&buf), amount); err != nil {
		return nil, fmt.Errorf("encoding amount: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeAmount(data []byte) (uint64, error) {
	amount, _, err := scale.DecodeCompact64(scale.NewDecoder(bytes.NewReader(data)))
	if err != nil {
		return 0, fmt.Errorf("decoding amount: %w", err)
	}
	return amount, nil
}
