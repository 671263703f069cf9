package frame

import "fmt"

// Split finalizes p into wire fragments no larger than bufferSize. A packet
// that fits is returned as a single end fragment aliasing p. Larger packets
// are cut into fragments that each repeat cmd; all but the last carry the
// uint32 total message length right after cmd.
func Split(p *Packet, bufferSize int, flag byte) ([][]byte, error) {
	if p.cmd == "" {
		return nil, ErrEmptyCommand
	}
	bufferSize = min(bufferSize, MaxFragmentLen)
	total := p.Len()
	if total <= bufferSize {
		if err := p.Finalize(true, flag); err != nil {
			return nil, err
		}
		return [][]byte{p.Bytes()}, nil
	}

	room := bufferSize - p.contentPos
	if room <= 4 {
		return nil, fmt.Errorf("%w: cmd %q buffer %d", ErrCommandTooLong, p.cmd, bufferSize)
	}

	data := p.Bytes()
	frags := make([][]byte, 0, (total-p.contentPos)/(room-4)+1)
	for idx := p.contentPos; idx < total; {
		n := total - idx
		end := n <= room
		if !end {
			n = room - 4
		}
		f := NewPacketSize(p.cmd, p.contentPos+4+n)
		if !end {
			f.PutUint32(uint32(total))
		}
		f.Append(data[idx : idx+n])
		if err := f.Finalize(end, flag); err != nil {
			return nil, err
		}
		frags = append(frags, f.Bytes())
		idx += n
	}
	return frags, nil
}
