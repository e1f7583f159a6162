// Package queue holds the FIFO of pending per-document pixel updates.
package queue

// Job is one captured pixel buffer waiting to be streamed to the viewer.
// The job owns Pixels until it is dequeued and released.
type Job struct {
	DocumentID    int
	Pixels        []byte
	Width         int
	Height        int
	Components    int // 3 (RGB) or 4 (RGBA)
	ComponentSize int // bits per component
	Chunky        bool

	// PixelsPushed is how far into the logical output buffer the drain has got.
	PixelsPushed    int
	TotalPixels     int
	ForceFullUpdate bool
}

// Done reports whether every pixel of the job has been consumed.
func (j *Job) Done() bool {
	return j.PixelsPushed >= j.TotalPixels
}

// Remaining returns how many pixels are left to push.
func (j *Job) Remaining() int {
	return max(j.TotalPixels-j.PixelsPushed, 0)
}

// Release drops the job's pixel buffer.
func (j *Job) Release() {
	j.Pixels = nil
}

// Queue is a FIFO of jobs holding at most one job per document.
// It is not safe for concurrent use; the producer loop owns it.
type Queue struct {
	items []*Job
	head  int
	byDoc map[int]*Job
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{byDoc: make(map[int]*Job)}
}

// Enqueue appends job and returns the job now queued for its document.
// If the document already has a queued job, job is coalesced into it: the
// slot keeps its position, takes the new buffer, restarts from pixel zero and
// keeps a forced update forced. The returned pointer is then the existing job.
func (q *Queue) Enqueue(job *Job) *Job {
	if existing, ok := q.byDoc[job.DocumentID]; ok {
		force := existing.ForceFullUpdate || job.ForceFullUpdate
		existing.Release()
		*existing = *job
		existing.PixelsPushed = 0
		existing.ForceFullUpdate = force
		return existing
	}
	q.items = append(q.items, job)
	q.byDoc[job.DocumentID] = job
	return job
}

// Dequeue removes and returns the head job, or nil when empty.
func (q *Queue) Dequeue() *Job {
	if q.IsEmpty() {
		return nil
	}
	job := q.items[q.head]
	q.items[q.head] = nil
	q.head++
	delete(q.byDoc, job.DocumentID)
	q.compact()
	return job
}

// Peek returns the head job without removing it, or nil when empty.
func (q *Queue) Peek() *Job {
	if q.IsEmpty() {
		return nil
	}
	return q.items[q.head]
}

// IsEmpty reports whether no job is queued.
func (q *Queue) IsEmpty() bool {
	return q.head == len(q.items)
}

// Len returns the number of queued jobs.
func (q *Queue) Len() int {
	return len(q.items) - q.head
}

// Contains reports whether a job is queued for the document.
func (q *Queue) Contains(documentID int) bool {
	_, ok := q.byDoc[documentID]
	return ok
}

// Remove takes the document's job out of the queue wherever it sits.
func (q *Queue) Remove(documentID int) *Job {
	job, ok := q.byDoc[documentID]
	if !ok {
		return nil
	}
	delete(q.byDoc, documentID)

	kept := q.items[:q.head]
	for _, it := range q.items[q.head:] {
		if it != job {
			kept = append(kept, it)
		}
	}
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = nil
	}
	q.items = kept
	q.compact()
	return job
}

// compact reclaims the consumed prefix once it dominates the backing slice.
func (q *Queue) compact() {
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
		return
	}
	if q.head > 16 && q.head*2 > len(q.items) {
		n := copy(q.items, q.items[q.head:])
		for i := n; i < len(q.items); i++ {
			q.items[i] = nil
		}
		q.items = q.items[:n]
		q.head = 0
	}
}
