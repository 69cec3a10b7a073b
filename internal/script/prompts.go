package script

import "fmt"

const summaryPrompt = `Summarize the following text so a student can revise from it. Use plain text only, no markdown and no ** markers.

Start with a clear title, then a one line subheading that gives context, then:

Key Points:
- first core point
- second core point
- further core points as needed

%s`

const summaryPromptArabic = `لخّص النص التالي بإيجاز ليكون ملاحظات دراسية منظمة، بنص عادي دون أي تنسيق أو علامات **.

ابدأ بعنوان واضح ثم سطر فرعي قصير يوضح السياق، ثم:

النقاط الأساسية:
- النقطة الأولى
- النقطة الثانية
- نقاط إضافية حسب الحاجة

%s`

const questionsPrompt = `Write %d multiple-choice questions about the following text. For each question give one correct answer and three incorrect but plausible answers.
Reply with a JSON array only, in this shape:
[
  {"question": "Question text?", "correctAnswer": "Correct answer", "incorrectAnswers": ["Wrong 1", "Wrong 2", "Wrong 3"]}
]

Text:
%s`

const questionsPromptArabic = `اكتب %d أسئلة اختيار من متعدد باللغة العربية عن النص التالي. لكل سؤال إجابة صحيحة واحدة وثلاث إجابات خاطئة معقولة.
أعد مصفوفة JSON فقط مع إبقاء المفاتيح بالإنجليزية:
[
  {"question": "نص السؤال؟", "correctAnswer": "الإجابة الصحيحة", "incorrectAnswers": ["خطأ 1", "خطأ 2", "خطأ 3"]}
]

النص:
%s`

const podcastPrompt = `Turn the following study material into the script of a short educational podcast narrated by a single host.
Write only the words to be spoken: plain sentences ending with periods, no markdown, no ** markers, no headings, no speaker labels and no sound cues.
Open with a one sentence introduction, explain the main ideas in order with simple examples, and close with a brief recap.

Material:
%s`

const podcastPromptArabic = `حوّل المادة الدراسية التالية إلى نص بودكاست تعليمي قصير يقدمه مذيع واحد.
اكتب الكلام المنطوق فقط بجمل عادية تنتهي بنقطة، دون تنسيق أو علامات ** أو عناوين أو أسماء متحدثين.
ابدأ بجملة تمهيدية، واشرح الأفكار الرئيسية بالترتيب مع أمثلة بسيطة، واختم بملخص قصير.

المادة:
%s`

// Prompt builds the instruction for task, in Arabic when source is Arabic.
func Prompt(task Task, source string) string {
	arabic := IsArabic(source)
	switch task {
	case TaskSummary:
		if arabic {
			return fmt.Sprintf(summaryPromptArabic, source)
		}
		return fmt.Sprintf(summaryPrompt, source)
	case TaskQuestions:
		if arabic {
			return fmt.Sprintf(questionsPromptArabic, QuestionCount, source)
		}
		return fmt.Sprintf(questionsPrompt, QuestionCount, source)
	default:
		if arabic {
			return fmt.Sprintf(podcastPromptArabic, source)
		}
		return fmt.Sprintf(podcastPrompt, source)
	}
}
