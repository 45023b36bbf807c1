// Package buffer provides thread-safe buffering for parsed rows.
//
// A PartitionBuffer collects the rows of one source partition until a record
// count or size limit is reached; the materializer then drains it into one
// staged chunk file:
//
//	buf := buffer.New(partition, maxSizeBytes, maxRecords)
//	if err := buf.Add(row); errors.Is(err, errors.ErrBufferFull) {
//	    writeChunk(buf.Drain())
//	    _ = buf.Add(row)
//	}
//
// Chunk boundaries only depend on the rows and the limits, so identical input
// yields identical chunks.
package buffer
