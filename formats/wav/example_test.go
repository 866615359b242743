// SPDX-License-Identifier: EPL-2.0

package wav_test

import (
	"bytes"
	"fmt"

	"github.com/ik5/sampleprep/audio"
	"github.com/ik5/sampleprep/formats/wav"
)

func Example() {
	var out bytes.Buffer
	_ = wav.WriteWAV16(&out, 16000, []int16{100, 200, 300, 400, 500})

	src, err := wav.Decoder{}.Decode(bytes.NewReader(out.Bytes()))
	if err != nil {
		fmt.Println(err)
		return
	}

	buf, err := audio.ReadAll(src)
	if err != nil {
		fmt.Println(err)
		return
	}

	fmt.Printf("%d Hz, %d channel(s), %d frames\n", buf.SampleRate, buf.NumChannels(), buf.Length())
	// Output:
	// 16000 Hz, 1 channel(s), 5 frames
}
